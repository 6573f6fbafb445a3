package listing_test

import (
	"sync"
	"time"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// fakeClock only fires timers from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) listing.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)

	return timer
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := make([]*fakeTimer, len(c.timers))
	copy(timers, c.timers)
	c.mu.Unlock()

	for _, timer := range timers {
		if fn := timer.due(now); fn != nil {
			fn()
		}
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	timers := make([]*fakeTimer, len(c.timers))
	copy(timers, c.timers)
	c.mu.Unlock()

	count := 0

	for _, timer := range timers {
		timer.mu.Lock()
		if !timer.stopped && !timer.fired {
			count++
		}
		timer.mu.Unlock()
	}

	return count
}

func (t *fakeTimer) due(now time.Time) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.fired || now.Before(t.at) {
		return nil
	}

	t.fired = true

	return t.fn
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true

	return active
}

func mapRows(ids ...int64) []mapRow {
	rows := make([]mapRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, mapRow{ID: id})
	}

	return rows
}

func rowIDs[R listing.Row](rows []R) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.RowID())
	}

	return ids
}

func mapPage(route, token string, pageNumber int, rows []mapRow) *listing.Page[mapRow] {
	return listing.NewPage(route, token, listing.PageMeta{PageNumber: pageNumber, PerPage: len(rows)}, rows)
}
