package conversation

import (
	"sort"

	"github.com/pelusa-v/chatsync/internal/models"
)

// SortPage orders a fetched page oldest first. Equal timestamps keep the
// server's relative order.
func SortPage(page []models.Message) []models.Message {
	out := append([]models.Message(nil), page...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt.Time)
	})
	return out
}

// Merge places a sorted page into the loaded sequence: older pages go in
// front when prepend is set, otherwise the page replaces what was loaded.
func Merge(loaded, page []models.Message, prepend bool) []models.Message {
	if !prepend {
		return append([]models.Message(nil), page...)
	}
	out := make([]models.Message, 0, len(page)+len(loaded))
	out = append(out, page...)
	return append(out, loaded...)
}

// HasMore guesses whether older pages exist. A full page means "maybe";
// only a short page ends pagination.
func HasMore(returned, pageSize int) bool {
	return returned == pageSize
}

// AnchorOffset is the scroll position that keeps the first visible message
// in place after content is prepended.
func AnchorOffset(oldHeight, oldTop, newHeight int) int {
	return newHeight - oldHeight + oldTop
}
