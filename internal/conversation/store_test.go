package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/timers"
)

var base = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

// history serves pages newest first, each page in descending order so the
// store has to sort it.
type history struct {
	mu    sync.Mutex
	msgs  map[models.UserID][]models.Message
	calls int
	err   error
	gate  map[models.UserID]chan struct{}
}

func newHistory() *history {
	return &history{msgs: map[models.UserID][]models.Message{}, gate: map[models.UserID]chan struct{}{}}
}

func (h *history) seed(peer models.UserID, n int) {
	for i := 1; i <= n; i++ {
		h.msgs[peer] = append(h.msgs[peer], models.Message{
			ID:       int64(i),
			SenderID: peer,
			Content:  fmt.Sprintf("m%d", i),
			SentAt:   models.At(base.Add(time.Duration(i) * time.Minute)),
		})
	}
}

func (h *history) FetchHistory(ctx context.Context, peer models.UserID, page, limit int) ([]models.Message, error) {
	h.mu.Lock()
	h.calls++
	gate := h.gate[peer]
	err := h.err
	all := h.msgs[peer]
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	end := len(all) - (page-1)*limit
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (h *history) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type viewport struct {
	mu          sync.Mutex
	height, top int
}

func (v *viewport) ScrollHeight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *viewport) ScrollTop() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *viewport) SetScrollTop(t int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.top = t
}

func (v *viewport) setHeight(h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.height = h
}

type frames struct {
	mu  sync.Mutex
	out []protocol.Outbound
}

func (f *frames) Send(o protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, o)
	return nil
}

type reads struct {
	mu     sync.Mutex
	marked []models.UserID
}

func (r *reads) MarkRead(id models.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, id)
	return true
}

type fixture struct {
	store *Store
	hist  *history
	vp    *viewport
	sent  *frames
	reads *reads

	mu    sync.Mutex
	views []View
}

func newFixture(self models.UserID) *fixture {
	f := &fixture{hist: newHistory(), vp: &viewport{}, sent: &frames{}, reads: &reads{}}
	f.store = NewStore(Options{
		Self:     self,
		Fetcher:  f.hist,
		Sender:   f.sent,
		Reads:    f.reads,
		Viewport: f.vp,
		Clock:    timers.NewManualClock(base.Add(24 * time.Hour)),
		Render: func(v View) {
			f.mu.Lock()
			f.views = append(f.views, v)
			f.mu.Unlock()
			// 20px per message
			f.vp.setHeight(20 * len(v.Messages))
		},
	})
	return f
}

func (f *fixture) lastView() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views[len(f.views)-1]
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestPaginationTerminates(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 23)
	ctx := context.Background()

	if err := f.store.Open(ctx, "7", "Alice"); err != nil {
		t.Fatal(err)
	}
	wantLens := []int{10, 20, 23}
	wantMore := []bool{true, true, false}

	for i := range wantLens {
		if i > 0 {
			if err := f.store.LoadHistory(ctx, "7", true); err != nil {
				t.Fatal(err)
			}
		}
		v := f.store.Snapshot()
		if len(v.Messages) != wantLens[i] || v.HasMore != wantMore[i] {
			t.Fatalf("after load %d: len=%d has_more=%v, want %d %v",
				i+1, len(v.Messages), v.HasMore, wantLens[i], wantMore[i])
		}
	}
	if err := f.store.LoadOlder(ctx); err != nil {
		t.Fatal(err)
	}
	if f.hist.callCount() != 3 {
		t.Errorf("fetches = %d, LoadOlder must stop once has_more is false", f.hist.callCount())
	}
}

func TestFifteenMessageScenario(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 15)
	ctx := context.Background()

	if err := f.store.Open(ctx, "7", "Alice"); err != nil {
		t.Fatal(err)
	}
	v := f.store.Snapshot()
	got := contents(v.Messages)
	if len(got) != 10 || got[0] != "m6" || got[9] != "m15" {
		t.Fatalf("first page = %v, want m6..m15 oldest first", got)
	}
	if !v.HasMore || v.Peer.Username != "Alice" {
		t.Errorf("view = %+v", v)
	}
	if f.vp.ScrollTop() != f.vp.ScrollHeight() {
		t.Errorf("first load should scroll to newest: top=%d height=%d", f.vp.ScrollTop(), f.vp.ScrollHeight())
	}

	f.vp.SetScrollTop(0)
	if err := f.store.OnScroll(ctx, 0); err != nil {
		t.Fatal(err)
	}
	v = f.store.Snapshot()
	got = contents(v.Messages)
	if len(got) != 15 || got[0] != "m1" || got[4] != "m5" || got[5] != "m6" {
		t.Fatalf("after backfill = %v", got)
	}
	if v.HasMore {
		t.Error("has_more should be false after a short page")
	}
	// 5 messages * 20px prepended above the anchor
	if got := f.vp.ScrollTop(); got != 100 {
		t.Errorf("scroll anchor = %d, want 100", got)
	}
}

func TestSingleFlight(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 30)
	gate := make(chan struct{})
	f.hist.gate["7"] = gate
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.store.Open(ctx, "7", "Alice") }()

	deadline := time.Now().Add(2 * time.Second)
	for f.hist.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := f.store.LoadHistory(ctx, "7", true); err != nil {
		t.Fatal(err)
	}
	if err := f.store.LoadOlder(ctx); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if f.hist.callCount() != 1 {
		t.Errorf("fetches = %d, want 1", f.hist.callCount())
	}
	if n := len(f.store.Snapshot().Messages); n != 10 {
		t.Errorf("messages = %d, want a single page", n)
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 10)
	f.hist.seed("9", 3)
	gate := make(chan struct{})
	f.hist.gate["7"] = gate
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.HistoryResultsDiscarded)

	done := make(chan error, 1)
	go func() { done <- f.store.Open(ctx, "7", "Alice") }()
	for f.hist.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := f.store.Open(ctx, "9", "Bob"); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	v := f.store.Snapshot()
	if v.Peer.UserID != "9" || len(v.Messages) != 3 || v.Loading {
		t.Errorf("view = %+v, stale page for 7 leaked", v)
	}
	if got := testutil.ToFloat64(metrics.HistoryResultsDiscarded) - before; got != 1 {
		t.Errorf("discarded = %v, want 1", got)
	}
}

func TestFirstPageKeepsMessagesArrivingMidFetch(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 3)
	gate := make(chan struct{})
	f.hist.gate["7"] = gate
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.store.Open(ctx, "7", "Alice") }()
	for f.hist.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.store.Send("hello"); err != nil {
		t.Fatal(err)
	}
	live := models.Message{SenderID: "7", ReceiverID: "1", Content: "live", SentAt: models.At(base.Add(48 * time.Hour))}
	if !f.store.Receive(live) {
		t.Fatal("live message for the open peer was not shown")
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := contents(f.store.Snapshot().Messages)
	want := []string{"m1", "m2", "m3", "hello", "live"}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("messages[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if v := f.lastView(); len(v.Messages) != len(want) {
		t.Errorf("last render has %d messages", len(v.Messages))
	}
}

func TestFetchErrorKeepsCursor(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 15)
	ctx := context.Background()
	if err := f.store.Open(ctx, "7", "Alice"); err != nil {
		t.Fatal(err)
	}

	f.hist.err = errors.New("503")
	if err := f.store.LoadOlder(ctx); err == nil {
		t.Fatal("expected fetch error")
	}
	v := f.store.Snapshot()
	if v.State != ViewError || !v.HasMore || len(v.Messages) != 10 {
		t.Errorf("view after error = %+v", v)
	}

	f.hist.err = nil
	if err := f.store.LoadOlder(ctx); err != nil {
		t.Fatal(err)
	}
	if got := contents(f.store.Snapshot().Messages); got[0] != "m1" {
		t.Errorf("retry should fetch page 2, got %v", got)
	}
}

func TestEmptyConversation(t *testing.T) {
	f := newFixture("1")
	if err := f.store.Open(context.Background(), "7", "Alice"); err != nil {
		t.Fatal(err)
	}
	v := f.store.Snapshot()
	if v.State != ViewEmpty || v.HasMore {
		t.Errorf("view = %+v, want empty without more", v)
	}
}

func TestOpenMarksRead(t *testing.T) {
	f := newFixture("1")
	_ = f.store.Open(context.Background(), "9", "Bob")
	if len(f.reads.marked) != 1 || f.reads.marked[0] != "9" {
		t.Errorf("marked = %v", f.reads.marked)
	}
}

func TestOptimisticSend(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 2)
	if err := f.store.Open(context.Background(), "7", "Alice"); err != nil {
		t.Fatal(err)
	}
	frameCount := len(f.sent.out)

	msg, err := f.store.Send("hello")
	if err != nil {
		t.Fatal(err)
	}
	v := f.lastView()
	last := v.Messages[len(v.Messages)-1]
	if last.Content != "hello" || last.SenderID != "1" || last.Persisted() {
		t.Errorf("last rendered = %+v", last)
	}
	if msg.ReceiverID != "7" || msg.SentAt.IsZero() {
		t.Errorf("msg = %+v", msg)
	}
	if len(f.sent.out) != frameCount+1 {
		t.Fatalf("frames = %d", len(f.sent.out))
	}
	if pm, ok := f.sent.out[frameCount].(protocol.SendMessage); !ok || pm.ReceiverID != "7" || pm.Content != "hello" {
		t.Errorf("frame = %#v", f.sent.out[frameCount])
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture("1")
	if _, err := f.store.Send("hi"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
	if _, err := f.store.Send("  "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}

	anon := newFixture("")
	_ = anon.store.Open(context.Background(), "7", "Alice")
	if _, err := anon.store.Send("hi"); !errors.Is(err, ErrNoLocalUser) {
		t.Errorf("err = %v, want ErrNoLocalUser", err)
	}
}

func TestReceiveOnlyForOpenPeer(t *testing.T) {
	f := newFixture("1")
	_ = f.store.Open(context.Background(), "7", "Alice")

	if f.store.Receive(models.Message{SenderID: "9", Content: "x"}) {
		t.Error("message from another peer must not be shown")
	}
	if !f.store.Receive(models.Message{SenderID: "7", Content: "y"}) {
		t.Error("message from the open peer should be shown")
	}
	if got := contents(f.store.Snapshot().Messages); len(got) != 1 || got[0] != "y" {
		t.Errorf("messages = %v", got)
	}
}

func TestCloseClearsSession(t *testing.T) {
	f := newFixture("1")
	f.hist.seed("7", 3)
	_ = f.store.Open(context.Background(), "7", "Alice")
	f.store.Close()

	if _, ok := f.store.Active(); ok {
		t.Error("no session expected after Close")
	}
	if v := f.store.Snapshot(); v.State != ViewClosed || len(v.Messages) != 0 {
		t.Errorf("view = %+v", v)
	}
	if err := f.store.LoadHistory(context.Background(), "7", true); err != nil || f.hist.callCount() != 1 {
		t.Error("LoadHistory after Close must be a no-op")
	}
}
