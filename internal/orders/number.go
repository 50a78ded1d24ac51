package orders

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"
)

var OrderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-\d{3}$`)

// NewOrderNumber builds ORD-<last 8 digits of unix millis>-<3 random digits>.
// Uniqueness is not re-checked here; the orders table has a unique index.
func NewOrderNumber(now time.Time) string {
	ms := now.UnixMilli() % 100_000_000
	return fmt.Sprintf("ORD-%08d-%03d", ms, 100+rand.IntN(900))
}
