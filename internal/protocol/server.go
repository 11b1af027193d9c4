package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// DecodeClient parses a client to server frame. It is the server-side mirror
// of Decode.
func DecodeClient(raw []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	var (
		f   Outbound
		err error
	)
	switch env.Type {
	case TypeIdentify:
		var v Identify
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeUserStatus:
		var v Announce
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeGetOnlineUsers:
		f = GetOnlineUsers{}
	case TypePrivateMessage:
		var v SendMessage
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeTypingStart:
		var v StartTyping
		err = json.Unmarshal(raw, &v)
		f = v
	case TypeTypingStop:
		var v StopTyping
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

// EncodeServer marshals a server to client frame with its discriminant.
func EncodeServer(f Inbound) ([]byte, error) {
	var v any
	switch f := f.(type) {
	case OnlineUsers:
		v = struct {
			Type Type `json:"type"`
			OnlineUsers
		}{TypeOnlineUsers, f}
	case AllUsers:
		v = struct {
			Type Type `json:"type"`
			AllUsers
		}{TypeAllUsers, f}
	case UserStatus:
		v = struct {
			Type Type `json:"type"`
			UserStatus
		}{TypeUserStatus, f}
	case IncomingMessage:
		v = struct {
			Type Type `json:"type"`
			IncomingMessage
		}{TypePrivateMessage, f}
	case TypingStarted:
		v = struct {
			Type Type `json:"type"`
			TypingStarted
		}{TypeTypingStart, f}
	case TypingStopped:
		v = struct {
			Type Type `json:"type"`
			TypingStopped
		}{TypeTypingStop, f}
	default:
		return nil, fmt.Errorf("encode: unsupported inbound frame %T", f)
	}
	return json.Marshal(v)
}
