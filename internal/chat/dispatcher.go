package chat

import (
	"errors"

	"github.com/pelusa-v/chatsync/internal/conversation"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/notify"
	"github.com/pelusa-v/chatsync/internal/presence"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/timers"
	"github.com/pelusa-v/chatsync/internal/typing"
)

// Dispatcher routes each inbound frame to exactly one consumer. Frames are
// handled one at a time, in the order the connection delivers them.
type Dispatcher struct {
	self     models.UserID
	clock    timers.Clock
	presence *presence.Cache
	conv     *conversation.Store
	notify   *notify.Aggregator
	typing   *typing.Controller
}

// Dispatch decodes raw and hands it to its consumer. Unknown and malformed
// frames are logged and counted, never surfaced.
func (d *Dispatcher) Dispatch(raw []byte) {
	f, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownFrame) {
			reason = "unknown"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		logging.Debug().Err(err).Str("reason", reason).Msg("inbound frame ignored")
		return
	}
	metrics.FramesReceived.WithLabelValues(string(protocol.TypeOf(f))).Inc()

	switch f := f.(type) {
	case protocol.OnlineUsers:
		d.presence.ApplySnapshot(d.withoutSelf(f.Users))
	case protocol.AllUsers:
		d.presence.MergeDirectory(f.Users)
	case protocol.UserStatus:
		if f.UserID == d.self {
			return
		}
		d.presence.ApplyEvent(f.Event())
	case protocol.IncomingMessage:
		d.onPrivateMessage(f)
	case protocol.TypingStarted:
		name := f.SenderUsername
		if name == "" {
			name = d.presence.Username(f.SenderID)
		}
		d.typing.OnRemoteStart(f.SenderID, name)
	case protocol.TypingStopped:
		d.typing.OnRemoteStop(f.SenderID)
	}
}

func (d *Dispatcher) withoutSelf(users []models.UserRef) []models.UserRef {
	out := users[:0:0]
	for _, u := range users {
		if u.UserID != d.self {
			out = append(out, u)
		}
	}
	return out
}

func (d *Dispatcher) onPrivateMessage(f protocol.IncomingMessage) {
	if f.SenderID == d.self {
		// already shown optimistically
		metrics.FramesDropped.WithLabelValues("self_echo").Inc()
		return
	}

	receiver := f.ReceiverID
	switch {
	case receiver == "":
		receiver = d.self
		logging.Debug().Str("sender_id", f.SenderID.String()).Msg("private_message without receiver_id, assuming local user")
	case receiver != d.self:
		metrics.FramesDropped.WithLabelValues("misaddressed").Inc()
		logging.Debug().Str("receiver_id", receiver.String()).Msg("private_message for another user ignored")
		return
	}

	at := f.Time()
	if at.IsZero() {
		at = models.At(d.clock.Now())
	}
	msg := models.Message{
		SenderID:   f.SenderID,
		ReceiverID: receiver,
		Content:    f.Content,
		SentAt:     at,
	}

	d.presence.Touch(f.SenderID, f.Content, at)
	d.typing.OnRemoteStop(f.SenderID)
	if d.conv.Receive(msg) {
		return
	}
	d.notify.Add(f.SenderID, d.presence.Username(f.SenderID), f.Content, at.Time)
}
