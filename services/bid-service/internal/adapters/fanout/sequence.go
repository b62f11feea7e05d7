package fanout

import "github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"

// SequenceFilter drops auction events older than the newest one already admitted for
// their topic. Events of one commit share a sequence and all pass. Notification topics
// span auctions and are never filtered. Not safe for concurrent use.
type SequenceFilter struct {
	last map[string]int64
}

func NewSequenceFilter() *SequenceFilter {
	return &SequenceFilter{last: make(map[string]int64)}
}

// Admit reports whether msg should be delivered and records its sequence.
func (f *SequenceFilter) Admit(msg Message) bool {
	if bids.IsNotificationTopic(msg.Topic) {
		return true
	}
	if last, ok := f.last[msg.Topic]; ok && msg.Sequence < last {
		return false
	}
	f.last[msg.Topic] = msg.Sequence
	return true
}
