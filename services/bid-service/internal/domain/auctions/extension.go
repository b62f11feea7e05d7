package auctions

import "time"

// ShouldExtend decides whether a bid accepted at now pushes the end date back.
// It extends when auto-extend is on, the auction has not ended, the remaining time is within
// the extension window, and the extension cap (MaxExtensions, 0 for none) is not exhausted.
func ShouldExtend(a *Auction, now time.Time) (bool, time.Time) {
	if !a.AutoExtend || a.ExtensionLength <= 0 {
		return false, a.EndDate
	}
	if a.MaxExtensions > 0 && a.ExtensionCount >= a.MaxExtensions {
		return false, a.EndDate
	}
	remaining := a.EndDate.Sub(now)
	if remaining <= 0 || remaining > a.ExtensionWindow {
		return false, a.EndDate
	}
	return true, a.EndDate.Add(a.ExtensionLength)
}

// ApplyExtension moves the end date to newEnd and marks the auction extended.
// An earlier newEnd is ignored so the end date never regresses.
func (a *Auction) ApplyExtension(newEnd time.Time, now time.Time) {
	if !newEnd.After(a.EndDate) {
		return
	}
	a.EndDate = newEnd
	a.Status = StatusExtended
	a.ExtensionCount++
	a.UpdatedAt = now
}
