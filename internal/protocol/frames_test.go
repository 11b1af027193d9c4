package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/pelusa-v/chatsync/internal/models"
)

func TestDecodeRoutesByType(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Type
	}{
		{"online users", `{"type":"online_users","users":[{"user_id":7,"username":"Alice"}]}`, TypeOnlineUsers},
		{"all users", `{"type":"all_users","users":[{"user_id":"7","username":"Alice","is_online":false}]}`, TypeAllUsers},
		{"status", `{"type":"user_status","user_id":"7","username":"Alice","status":"offline"}`, TypeUserStatus},
		{"message", `{"type":"private_message","sender_id":"9","content":"hi","timestamp":1710000306000}`, TypePrivateMessage},
		{"typing start", `{"type":"typing_start","sender_id":"9","sender_username":"Bob"}`, TypeTypingStart},
		{"typing stop", `{"type":"typing_stop","sender_id":"9"}`, TypeTypingStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := TypeOf(f); got != tt.want {
				t.Errorf("TypeOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeNormalizesNumericIDs(t *testing.T) {
	f, err := Decode([]byte(`{"type":"online_users","users":[{"user_id":7,"username":"Alice"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	users := f.(OnlineUsers).Users
	if len(users) != 1 || users[0].UserID != "7" {
		t.Errorf("unexpected users %+v", users)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"new_post","id":1}`))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Fatalf("err = %v, want ErrUnknownFrame", err)
	}
	var ufe *UnknownFrameError
	if !errors.As(err, &ufe) || ufe.Type != "new_post" {
		t.Errorf("expected UnknownFrameError{new_post}, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil || errors.Is(err, ErrUnknownFrame) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestIncomingMessageTimeFallsBackToSentAt(t *testing.T) {
	f, err := Decode([]byte(`{"type":"private_message","sender_id":"9","content":"hi","sent_at":1710000306000}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := f.(IncomingMessage)
	if msg.Time().UnixMilli() != 1710000306000 {
		t.Errorf("Time() = %v", msg.Time())
	}
	if msg.ReceiverID != "" {
		t.Errorf("ReceiverID should be empty, got %q", msg.ReceiverID)
	}
}

func TestEncodeCarriesDiscriminant(t *testing.T) {
	tests := []struct {
		frame Outbound
		want  []string
	}{
		{Identify{UserID: "1"}, []string{`"type":"identify"`, `"user_id":"1"`}},
		{Announce{UserID: "1", Username: "me"}, []string{`"type":"user_status"`, `"username":"me"`}},
		{GetOnlineUsers{}, []string{`"type":"get_online_users"`}},
		{SendMessage{ReceiverID: "7", Content: "hello"}, []string{`"type":"private_message"`, `"receiver_id":"7"`, `"content":"hello"`}},
		{StartTyping{ReceiverID: "7"}, []string{`"type":"typing_start"`}},
		{StopTyping{ReceiverID: "7"}, []string{`"type":"typing_stop"`}},
	}
	for _, tt := range tests {
		t.Run(string(OutboundType(tt.frame)), func(t *testing.T) {
			b, err := Encode(tt.frame)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(b), w) {
					t.Errorf("%s missing %s", b, w)
				}
			}
		})
	}
}

func TestServerCodecMirrorsClient(t *testing.T) {
	raw, err := Encode(SendMessage{ReceiverID: "7", Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	f, err := DecodeClient(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := f.(SendMessage); !ok || got.ReceiverID != "7" || got.Content != "hello" {
		t.Errorf("DecodeClient = %#v", f)
	}

	out, err := EncodeServer(IncomingMessage{
		SenderID:   "1",
		ReceiverID: "7",
		Content:    "hello",
		Timestamp:  models.FromMillis(1710000306000),
	})
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatal(err)
	}
	if generic["type"] != "private_message" || generic["receiver_id"] != "7" {
		t.Errorf("unexpected server frame %s", out)
	}
}
