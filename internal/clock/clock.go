// Package clock wraps the wall clock behind an interface so the
// coordinator, deposit monitor, and recovery ledger can be driven
// deterministically in tests.
package clock

import (
	"time"

	upstream "github.com/andres-erbsen/clock"
)

// Clock is the subset of wall-clock behavior the core consumes.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	Ticker(d time.Duration) *upstream.Ticker
}

// Real returns a Clock backed by the actual OS clock.
func Real() Clock {
	return upstream.New()
}

// Mock is a controllable clock for tests, backed by andres-erbsen/clock's
// mock implementation.
type Mock struct {
	*upstream.Mock
}

// NewMock creates a Mock clock pinned at the Unix epoch.
func NewMock() *Mock {
	return &Mock{Mock: upstream.NewMock()}
}
