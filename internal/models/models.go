package models

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// UserID is a user identifier normalized to its string form. Servers send
// ids either as JSON strings or as numbers; both decode to the same value.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NormalizeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = NormalizeID(n.String())
	return nil
}

// NormalizeID trims whitespace so "7", " 7" and 7 compare equal.
func NormalizeID(s string) UserID {
	return UserID(strings.TrimSpace(s))
}

func (id UserID) String() string { return string(id) }

// Status is the presence status carried by user_status frames.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Identity is the local user the client connects as.
type Identity struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
}

// UserRef is the {user_id, username} pair found in rosters and snapshots.
type UserRef struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
}

// Peer is a cached roster entry. Peers are never deleted, only updated.
type Peer struct {
	UserID               UserID    `json:"user_id"`
	Username             string    `json:"username"`
	IsOnline             bool      `json:"is_online"`
	LastMessageContent   string    `json:"last_message_content"`
	LastMessageTimestamp Timestamp `json:"last_message_timestamp"`
}

// PresenceEvent is a single online/offline transition.
type PresenceEvent struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Status   Status `json:"status"`
}

// Message is a private message. ID is zero until the server has persisted it.
type Message struct {
	ID         int64     `json:"id,omitempty"`
	SenderID   UserID    `json:"sender_id"`
	ReceiverID UserID    `json:"receiver_id,omitempty"`
	Content    string    `json:"content"`
	SentAt     Timestamp `json:"sent_at"`
}

// Persisted reports whether the message came from the server.
func (m Message) Persisted() bool { return m.ID != 0 }

// Notification is the latest unread message of one sender.
type Notification struct {
	SenderID   UserID    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Timestamp decodes epoch milliseconds or common text layouts and encodes
// as epoch milliseconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
}

// At wraps t.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

// FromMillis converts epoch milliseconds.
func FromMillis(ms int64) Timestamp { return Timestamp{Time: time.UnixMilli(ms).UTC()} }

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(ts.UnixMilli(), 10)), nil
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		ms, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return err
			}
			ms = int64(f)
		}
		*ts = FromMillis(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*ts = FromMillis(ms)
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			ts.Time = t.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}
