package conversation

import (
	"testing"
	"time"

	"github.com/pelusa-v/chatsync/internal/models"
)

func TestSortPageIsStable(t *testing.T) {
	at := func(min int) models.Timestamp { return models.At(base.Add(time.Duration(min) * time.Minute)) }
	page := []models.Message{
		{Content: "c", SentAt: at(3)},
		{Content: "a1", SentAt: at(1)},
		{Content: "a2", SentAt: at(1)},
		{Content: "b", SentAt: at(2)},
	}
	got := contents(SortPage(page))
	want := []string{"a1", "a2", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortPage = %v, want %v", got, want)
		}
	}
	if page[0].Content != "c" {
		t.Error("input slice reordered")
	}
}

func TestHasMore(t *testing.T) {
	tests := []struct {
		returned, size int
		want           bool
	}{
		{10, 10, true},
		{3, 10, false},
		{0, 10, false},
	}
	for _, tt := range tests {
		if got := HasMore(tt.returned, tt.size); got != tt.want {
			t.Errorf("HasMore(%d, %d) = %v", tt.returned, tt.size, got)
		}
	}
}

func TestAnchorOffset(t *testing.T) {
	if got := AnchorOffset(400, 0, 600); got != 200 {
		t.Errorf("AnchorOffset = %d, want 200", got)
	}
	if got := AnchorOffset(400, 15, 400); got != 15 {
		t.Errorf("AnchorOffset with nothing added = %d, want 15", got)
	}
}

func TestMerge(t *testing.T) {
	old := []models.Message{{Content: "3"}}
	page := []models.Message{{Content: "1"}, {Content: "2"}}
	if got := contents(Merge(old, page, true)); len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Errorf("prepend = %v", got)
	}
	if got := contents(Merge(old, page, false)); len(got) != 2 {
		t.Errorf("replace = %v", got)
	}
}
