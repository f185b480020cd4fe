package quota

import "github.com/google/uuid"

// Entry is a metered quota balance owned by one subscription. Code references
// the originating plan feature's code rather than a live row, since the
// feature may change independently after the subscription is created.
// Available only ever decreases through Consume; Used grows by the same
// amount and is monotonically non-decreasing.
type Entry struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Code           string
	Available      int64
	Used           int64
}

// Remaining reports whether the entry still has quota to withdraw.
func (e *Entry) Remaining() bool {
	return e.Available > 0
}
