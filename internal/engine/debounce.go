package engine

import "time"

// debouncer coalesces bursts of user-interaction events into a single
// delayed refresh with a spacing floor between actual refreshes. All
// methods run on the interaction loop; the schedule callback must deliver
// its firing there too.
type debouncer struct {
	clock    interface{ Now() time.Time }
	schedule func(d time.Duration, fn func()) (cancel func())

	pending     bool
	cancelTimer func()
	lastRefresh time.Time // last completed refresh of any origin
	refresh     func()
}

// notify is called on every qualifying interaction event. The first event
// of a burst arms the delay; later ones are absorbed.
func (db *debouncer) notify() {
	if db.pending {
		return
	}
	db.pending = true
	db.cancelTimer = db.schedule(interactionDebounce, db.fire)
}

// fire runs when the delay elapses. Under a dense interaction storm the
// spacing floor pushes the refresh out once more instead of firing.
func (db *debouncer) fire() {
	if !db.pending {
		return
	}
	if !db.lastRefresh.IsZero() && db.clock.Now().Sub(db.lastRefresh) < minRefreshSpacing {
		db.cancelTimer = db.schedule(debounceRetry, db.fire)
		return
	}
	db.pending = false
	db.cancelTimer = nil
	db.refresh()
}

// markRefreshed records a completed refresh, whatever triggered it.
func (db *debouncer) markRefreshed(now time.Time) {
	db.lastRefresh = now
}

func (db *debouncer) stop() {
	if db.cancelTimer != nil {
		db.cancelTimer()
		db.cancelTimer = nil
	}
	db.pending = false
}
