package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goccy/go-json"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
)

// Key layout:
//
//	meta:seq                         last assigned message id (uint64 big endian)
//	thread:<a>:<b>:msg:<id %020d>    JSON message, ids ascending within a thread
var seqKey = []byte("meta:seq")

// Pebble stores history in a pebble database.
type Pebble struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

// OpenPebble opens (or creates) the database at path. fs may be nil for the
// real filesystem; tests pass vfs.NewMem().
func OpenPebble(path string, fs vfs.FS) (*Pebble, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	logging.Info().Str("path", path).Msg("opening pebble history")
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	s := &Pebble{db: db}
	v, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		s.seq = binary.BigEndian.Uint64(v)
		_ = closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		_ = db.Close()
		return nil, fmt.Errorf("read message sequence: %w", err)
	}
	return s, nil
}

func threadPrefix(a, b models.UserID) []byte {
	return []byte("thread:" + ThreadID(a, b) + ":msg:")
}

// prefixEnd is the smallest key greater than every key starting with p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Pebble) Append(m models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return models.Message{}, ErrClosed
	}

	next := s.seq + 1
	m.ID = int64(next)
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	key := fmt.Appendf(threadPrefix(m.SenderID, m.ReceiverID), "%020d", next)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], next)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Set(seqKey, seq[:], nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logging.Error().Err(err).Str("key", string(key)).Msg("save message failed")
		return models.Message{}, fmt.Errorf("commit message: %w", err)
	}
	s.seq = next
	return m, nil
}

func (s *Pebble) Page(a, b models.UserID, page, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	prefix := threadPrefix(a, b)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	skip, n := pageBounds(page, limit)
	out := make([]models.Message, 0, n)
	for valid := iter.Last(); valid && len(out) < n; valid = iter.Prev() {
		if skip > 0 {
			skip--
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Pebble) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logging.Info().Msg("pebble history closed")
	return err
}
