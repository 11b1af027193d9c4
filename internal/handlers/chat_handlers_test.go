package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/pelusa-v/chatsync/internal/api"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/relay"
	"github.com/pelusa-v/chatsync/internal/store"
)

//nolint:gochecknoinits // quiet logs in tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestHub(t *testing.T) *relay.Hub {
	t.Helper()
	hub := relay.NewHub([]models.UserRef{
		{UserID: "1", Username: "Alice"},
		{UserID: "2", Username: "Bob"},
		{UserID: "3", Username: "Carol"},
	}, store.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func get(t *testing.T, hub *relay.Hub, target, session string, out any) int {
	t.Helper()
	app := NewApp(hub)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: session})
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s: %v", target, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return resp.StatusCode
}

func TestSessionRequired(t *testing.T) {
	hub := newTestHub(t)
	tests := []struct {
		name    string
		session string
		want    int
	}{
		{"no cookie", "", http.StatusUnauthorized},
		{"unknown user", "99", http.StatusUnauthorized},
		{"known user", "1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := get(t, hub, api.PathUsers, tt.session, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMessagesEndpoint(t *testing.T) {
	hub := newTestHub(t)
	for i := 0; i < 12; i++ {
		if _, err := hub.Deliver("2", "1", "hello"); err != nil {
			t.Fatal(err)
		}
	}

	var page []models.Message
	if code := get(t, hub, "/messages?user_id=2&page=2&limit=10", "1", &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(page) != 2 || page[0].SenderID != "2" || page[0].SentAt.IsZero() {
		t.Errorf("page 2 = %+v", page)
	}

	if code := get(t, hub, "/messages?page=1", "1", nil); code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d", code)
	}
	if code := get(t, hub, "/messages?user_id=2&page=zero", "1", nil); code != http.StatusBadRequest {
		t.Errorf("bad page status = %d", code)
	}
}

func TestOrderedDirectory(t *testing.T) {
	hub := newTestHub(t)
	if _, err := hub.Deliver("1", "3", "latest"); err != nil {
		t.Fatal(err)
	}

	var users []models.Peer
	if code := get(t, hub, api.PathOrdered, "1", &users); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(users) != 2 || users[0].UserID != "3" || users[0].LastMessageContent != "latest" {
		t.Errorf("ordered users = %+v", users)
	}

	var online []models.UserRef
	if code := get(t, hub, api.PathOnlineUsers, "1", &online); code != http.StatusOK || len(online) != 0 {
		t.Errorf("online = %+v (status %d)", online, code)
	}
}

func TestInboxEndpoint(t *testing.T) {
	hub := newTestHub(t)
	if _, err := hub.Deliver("2", "1", "ping"); err != nil {
		t.Fatal(err)
	}
	var inbox []relay.Preview
	if code := get(t, hub, "/inbox", "1", &inbox); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(inbox) != 1 || inbox[0].PeerID != "2" || inbox[0].Unread != 1 || inbox[0].Title != "Bob" {
		t.Errorf("inbox = %+v", inbox)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	hub := newTestHub(t)
	if code := get(t, hub, "/ws", "1", nil); code != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hub := newTestHub(t)
	if code := get(t, hub, "/metrics", "", nil); code != http.StatusOK {
		t.Errorf("status = %d", code)
	}
}
