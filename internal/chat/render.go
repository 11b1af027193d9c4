package chat

import (
	"github.com/pelusa-v/chatsync/internal/conversation"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/transport"
	"github.com/pelusa-v/chatsync/internal/typing"
)

// Renderer is the UI surface. Methods are called outside any engine lock,
// possibly from timer goroutines.
type Renderer interface {
	Roster(peers []models.Peer)
	Conversation(v conversation.View)
	Badge(unread int)
	Typing(ind typing.Indicator)
	Connection(state transport.State)
}

// NopRenderer discards every render.
type NopRenderer struct{}

func (NopRenderer) Roster([]models.Peer) {}

func (NopRenderer) Conversation(conversation.View) {}

func (NopRenderer) Badge(int) {}

func (NopRenderer) Typing(typing.Indicator) {}

func (NopRenderer) Connection(transport.State) {}

// LogRenderer writes renders to the global logger. It backs the headless
// watch command.
type LogRenderer struct{}

func (LogRenderer) Roster(peers []models.Peer) {
	online := 0
	for _, p := range peers {
		if p.IsOnline {
			online++
		}
	}
	logging.Info().Int("peers", len(peers)).Int("online", online).Msg("roster")
}

func (LogRenderer) Conversation(v conversation.View) {
	ev := logging.Info().Str("peer", v.Peer.UserID.String()).Int("messages", len(v.Messages)).Bool("has_more", v.HasMore)
	switch v.State {
	case conversation.ViewError:
		ev.Str("state", "Error loading messages")
	case conversation.ViewEmpty:
		ev.Str("state", "No messages found")
	}
	ev.Msg("conversation")
}

func (LogRenderer) Badge(unread int) {
	logging.Info().Int("unread", unread).Msg("notifications")
}

func (LogRenderer) Typing(ind typing.Indicator) {
	logging.Info().Str("peer", ind.PeerID.String()).Str("username", ind.Username).Bool("typing", ind.Visible).Msg("typing")
}

func (LogRenderer) Connection(state transport.State) {
	logging.Info().Str("state", state.String()).Msg("connection")
}
