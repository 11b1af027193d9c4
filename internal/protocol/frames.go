// Package protocol defines the JSON frames exchanged over the persistent
// connection. Every frame carries a "type" discriminant; inbound and outbound
// frames are closed sets and Decode/Encode switch over them exhaustively.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/pelusa-v/chatsync/internal/models"
)

// Type is the frame discriminant.
type Type string

const (
	TypeIdentify       Type = "identify"
	TypeUserStatus     Type = "user_status"
	TypeGetOnlineUsers Type = "get_online_users"
	TypeOnlineUsers    Type = "online_users"
	TypeAllUsers       Type = "all_users"
	TypePrivateMessage Type = "private_message"
	TypeTypingStart    Type = "typing_start"
	TypeTypingStop     Type = "typing_stop"
)

// ErrUnknownFrame is matched by errors.Is for frames with an unrecognized type.
var ErrUnknownFrame = errors.New("unknown frame type")

// UnknownFrameError reports the discriminant that was not recognized.
type UnknownFrameError struct {
	Type Type
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

func (e *UnknownFrameError) Is(target error) bool { return target == ErrUnknownFrame }

// Inbound is a server to client frame.
type Inbound interface {
	inbound() Type
}

// OnlineUsers is the snapshot of currently online users.
type OnlineUsers struct {
	Users []models.UserRef `json:"users"`
}

// AllUsers is the full user directory.
type AllUsers struct {
	Users []models.Peer `json:"users"`
}

// UserStatus is a presence transition for one user.
type UserStatus struct {
	UserID   models.UserID `json:"user_id"`
	Username string        `json:"username"`
	Status   models.Status `json:"status"`
}

// Event converts the frame into a presence event.
func (f UserStatus) Event() models.PresenceEvent {
	return models.PresenceEvent{UserID: f.UserID, Username: f.Username, Status: f.Status}
}

// IncomingMessage is a live private message. ReceiverID may be empty.
type IncomingMessage struct {
	SenderID   models.UserID    `json:"sender_id"`
	ReceiverID models.UserID    `json:"receiver_id,omitempty"`
	Content    string           `json:"content"`
	Timestamp  models.Timestamp `json:"timestamp"`
	SentAt     models.Timestamp `json:"sent_at"`
}

// Time returns timestamp, falling back to sent_at.
func (f IncomingMessage) Time() models.Timestamp {
	if !f.Timestamp.IsZero() {
		return f.Timestamp
	}
	return f.SentAt
}

// TypingStarted reports that a peer is typing to the local user.
type TypingStarted struct {
	SenderID       models.UserID `json:"sender_id"`
	SenderUsername string        `json:"sender_username,omitempty"`
}

// TypingStopped reports that a peer stopped typing.
type TypingStopped struct {
	SenderID models.UserID `json:"sender_id"`
}

func (OnlineUsers) inbound() Type     { return TypeOnlineUsers }
func (AllUsers) inbound() Type        { return TypeAllUsers }
func (UserStatus) inbound() Type      { return TypeUserStatus }
func (IncomingMessage) inbound() Type { return TypePrivateMessage }
func (TypingStarted) inbound() Type   { return TypeTypingStart }
func (TypingStopped) inbound() Type   { return TypeTypingStop }

// TypeOf returns the discriminant of an inbound frame.
func TypeOf(f Inbound) Type { return f.inbound() }

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses a raw frame. Unrecognized discriminants yield an
// *UnknownFrameError; malformed JSON yields a wrapped decode error.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	var (
		f   Inbound
		err error
	)
	switch env.Type {
	case TypeOnlineUsers:
		var v OnlineUsers
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeAllUsers:
		var v AllUsers
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeUserStatus:
		var v UserStatus
		err = json.Unmarshal(raw, &v)
		f = v
	case TypePrivateMessage:
		var v IncomingMessage
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeTypingStart:
		var v TypingStarted
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeTypingStop:
		var v TypingStopped
		err = json.Unmarshal(raw, &v)
		f = v
	default:
		return nil, &UnknownFrameError{Type: env.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", env.Type, err)
	}
	return f, nil
}
