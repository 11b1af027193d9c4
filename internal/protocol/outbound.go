package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/pelusa-v/chatsync/internal/models"
)

// Outbound is a client to server frame.
type Outbound interface {
	outbound() Type
}

type Identify struct {
	UserID models.UserID `json:"user_id"`
}

// Announce is the outbound user_status frame sent after connecting.
type Announce struct {
	UserID   models.UserID `json:"user_id"`
	Username string        `json:"username"`
}

type GetOnlineUsers struct{}

// SendMessage is the outbound private_message frame.
type SendMessage struct {
	ReceiverID models.UserID `json:"receiver_id"`
	Content    string        `json:"content"`
}

type StartTyping struct {
	ReceiverID models.UserID `json:"receiver_id"`
}

type StopTyping struct {
	ReceiverID models.UserID `json:"receiver_id"`
}

func (Identify) outbound() Type       { return TypeIdentify }
func (Announce) outbound() Type       { return TypeUserStatus }
func (GetOnlineUsers) outbound() Type { return TypeGetOnlineUsers }
func (SendMessage) outbound() Type    { return TypePrivateMessage }
func (StartTyping) outbound() Type    { return TypeTypingStart }
func (StopTyping) outbound() Type     { return TypeTypingStop }

// OutboundType returns the discriminant of an outbound frame.
func OutboundType(f Outbound) Type { return f.outbound() }

// Encode marshals f with its "type" discriminant.
func Encode(f Outbound) ([]byte, error) {
	var v any
	switch f := f.(type) {
	case Identify:
		v = struct {
			Type Type `json:"type"`
			Identify
		}{TypeIdentify, f}
	case Announce:
		v = struct {
			Type Type `json:"type"`
			Announce
		}{TypeUserStatus, f}
	case GetOnlineUsers:
		v = envelope{Type: TypeGetOnlineUsers}
	case SendMessage:
		v = struct {
			Type Type `json:"type"`
			SendMessage
		}{TypePrivateMessage, f}
	case StartTyping:
		v = struct {
			Type Type `json:"type"`
			StartTyping
		}{TypeTypingStart, f}
	case StopTyping:
		v = struct {
			Type Type `json:"type"`
			StopTyping
		}{TypeTypingStop, f}
	default:
		return nil, fmt.Errorf("encode: unsupported outbound frame %T", f)
	}
	return json.Marshal(v)
}
