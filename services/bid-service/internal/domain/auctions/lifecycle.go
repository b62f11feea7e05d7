package auctions

import "time"

var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusLive, StatusCancelled},
	StatusLive:      {StatusExtended, StatusEnded, StatusCancelled},
	StatusExtended:  {StatusExtended, StatusEnded, StatusCancelled},
}

// CanTransitionTo reports whether next is a legal successor of the current status.
func (a *Auction) CanTransitionTo(next Status) bool {
	for _, s := range transitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// NextStatus returns the time-driven successor of a's status at now, if any.
// Only scheduled -> live and live|extended -> ended are driven by the clock.
func NextStatus(a *Auction, now time.Time) (Status, bool) {
	switch {
	case a.Status == StatusScheduled && !now.Before(a.StartDate):
		return StatusLive, true
	case a.Status.IsActive() && !now.Before(a.EndDate):
		return StatusEnded, true
	default:
		return "", false
	}
}

// EffectiveStatus is the status a would have if every pending time-driven transition were applied.
func EffectiveStatus(a *Auction, now time.Time) Status {
	cur := *a
	for {
		next, ok := NextStatus(&cur, now)
		if !ok {
			return cur.Status
		}
		cur.Status = next
	}
}

// AdvanceStatus applies every pending time-driven transition and returns them in order.
func (a *Auction) AdvanceStatus(now time.Time) []Status {
	var applied []Status
	for {
		next, ok := NextStatus(a, now)
		if !ok {
			return applied
		}
		a.Status = next
		a.UpdatedAt = now
		applied = append(applied, next)
	}
}
