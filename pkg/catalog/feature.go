package catalog

import (
	"math"

	"github.com/google/uuid"
)

// Feature is a named capability attached to a plan or to one of its
// intervals. Value is either a boolean flag or a numeric amount; for
// consumable features the value is the initial quota allotment seeded into
// the subscriber's ledger at subscribe time.
type Feature struct {
	ID         uuid.UUID
	Code       string
	Value      any
	Consumable bool
	SortOrder  int
}

// Quantity returns the numeric value of the feature. The second return is
// false when the value is not a whole number, e.g. for boolean ability flags
// or fractional amounts that cannot seed a discrete quota.
func (f Feature) Quantity() (int64, bool) {
	switch v := f.Value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
