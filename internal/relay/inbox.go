package relay

import (
	"sort"

	"github.com/pelusa-v/chatsync/internal/models"
)

// Preview is the last message of one conversation, seen from one user.
type Preview struct {
	PeerID   models.UserID    `json:"peer_id"`
	Title    string           `json:"title"`
	LastBody string           `json:"last_body"`
	LastTs   models.Timestamp `json:"last_ts"`
	Unread   int              `json:"unread"`
}

// Inbox maps user -> peer -> preview.
type Inbox map[models.UserID]map[models.UserID]*Preview

func (in Inbox) ensure(user models.UserID) map[models.UserID]*Preview {
	box, ok := in[user]
	if !ok {
		box = make(map[models.UserID]*Preview)
		in[user] = box
	}
	return box
}

// onPrivateMessage updates both sides of the conversation. Caller holds h.mu.
func (h *Hub) onPrivateMessage(m models.Message) {
	from, to := m.SenderID, m.ReceiverID

	h.inbox.ensure(from)[to] = &Preview{
		PeerID: to, Title: h.users[to],
		LastBody: m.Content, LastTs: m.SentAt,
		Unread: h.unread(from, to),
	}

	box := h.inbox.ensure(to)
	if prev, ok := box[from]; ok {
		prev.LastBody, prev.LastTs = m.Content, m.SentAt
		prev.Unread++
	} else {
		box[from] = &Preview{
			PeerID: from, Title: h.users[from],
			LastBody: m.Content, LastTs: m.SentAt,
			Unread: 1,
		}
	}
}

func (h *Hub) unread(owner, peer models.UserID) int {
	if p, ok := h.inbox[owner][peer]; ok {
		return p.Unread
	}
	return 0
}

// Inbox lists user's conversations, most recent first.
func (h *Hub) Inbox(user models.UserID) []Preview {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]Preview, 0, len(h.inbox[user]))
	for _, p := range h.inbox[user] {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastTs.After(list[j].LastTs.Time) })
	return list
}

// MarkRead zeroes user's unread counter for the conversation with peer.
func (h *Hub) MarkRead(user, peer models.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.inbox[user][peer]; ok {
		p.Unread = 0
	}
}
