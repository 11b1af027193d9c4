package presence

import (
	"sort"

	"github.com/pelusa-v/chatsync/internal/models"
)

// State is the presence view: every peer ever seen plus the last known
// online set. The online set decides is_online; peers are never removed.
type State struct {
	Peers  map[models.UserID]models.Peer
	Online map[models.UserID]struct{}
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Peers:  make(map[models.UserID]models.Peer),
		Online: make(map[models.UserID]struct{}),
	}
}

func (s State) clone() State {
	out := State{
		Peers:  make(map[models.UserID]models.Peer, len(s.Peers)),
		Online: make(map[models.UserID]struct{}, len(s.Online)),
	}
	for id, p := range s.Peers {
		out.Peers[id] = p
	}
	for id := range s.Online {
		out.Online[id] = struct{}{}
	}
	return out
}

// ApplySnapshot replaces the online set with users. Known peers missing
// from the snapshot become offline; unknown users are added.
func ApplySnapshot(s State, users []models.UserRef) State {
	out := s.clone()
	out.Online = make(map[models.UserID]struct{}, len(users))
	for _, u := range users {
		if u.UserID == "" {
			continue
		}
		out.Online[u.UserID] = struct{}{}
		p := out.Peers[u.UserID]
		p.UserID = u.UserID
		if u.Username != "" {
			p.Username = u.Username
		}
		out.Peers[u.UserID] = p
	}
	for id, p := range out.Peers {
		_, online := out.Online[id]
		p.IsOnline = online
		out.Peers[id] = p
	}
	return out
}

// ApplyEvent applies a single presence transition.
func ApplyEvent(s State, ev models.PresenceEvent) State {
	if ev.UserID == "" {
		return s
	}
	out := s.clone()
	p := out.Peers[ev.UserID]
	p.UserID = ev.UserID
	if ev.Username != "" {
		p.Username = ev.Username
	}
	p.IsOnline = ev.Status == models.StatusOnline
	if p.IsOnline {
		out.Online[ev.UserID] = struct{}{}
	} else {
		delete(out.Online, ev.UserID)
	}
	out.Peers[ev.UserID] = p
	return out
}

// MergeDirectory folds a full roster into the state. The online set stays
// the source of truth: directory users absent from it are marked offline,
// whatever the directory itself claims. Last-message fields from the
// directory replace cached ones only when they are newer.
func MergeDirectory(s State, dir []models.Peer) State {
	out := s.clone()
	for _, d := range dir {
		if d.UserID == "" {
			continue
		}
		p, known := out.Peers[d.UserID]
		p.UserID = d.UserID
		if d.Username != "" {
			p.Username = d.Username
		}
		if !known || d.LastMessageTimestamp.After(p.LastMessageTimestamp.Time) {
			p.LastMessageContent = d.LastMessageContent
			p.LastMessageTimestamp = d.LastMessageTimestamp
		}
		_, p.IsOnline = out.Online[d.UserID]
		out.Peers[d.UserID] = p
	}
	return out
}

// Touch records the latest message exchanged with id. Unknown ids are left
// alone; the next snapshot or directory fetch introduces them.
func Touch(s State, id models.UserID, content string, at models.Timestamp) (State, bool) {
	p, ok := s.Peers[id]
	if !ok || at.Before(p.LastMessageTimestamp.Time) {
		return s, false
	}
	out := s.clone()
	p.LastMessageContent = content
	p.LastMessageTimestamp = at
	out.Peers[id] = p
	return out, true
}

// Sorted lists peers by most recent message first, then by username.
func Sorted(s State) []models.Peer {
	out := make([]models.Peer, 0, len(s.Peers))
	for _, p := range s.Peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastMessageTimestamp.Equal(b.LastMessageTimestamp.Time) {
			return a.LastMessageTimestamp.After(b.LastMessageTimestamp.Time)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.UserID < b.UserID
	})
	return out
}
