package auctions

import "github.com/google/uuid"

// Access is what a viewer may read of an auction.
type Access int

const (
	AccessGranted Access = iota
	// AccessHidden applies to drafts outside their owner and staff; callers report not found.
	AccessHidden
	// AccessNeedsIdentity applies to private auctions read anonymously.
	AccessNeedsIdentity
	// AccessForbidden applies to private auctions read by users who were not invited.
	AccessForbidden
)

// Viewer is the caller reading an auction. A nil *Viewer is anonymous.
type Viewer struct {
	UserID  uuid.UUID
	IsStaff bool
}

// AccessFor applies the read rules: owner and staff see everything, drafts are hidden from
// everyone else, private auctions need an invitation. invited is only called for private auctions.
func (a *Auction) AccessFor(v *Viewer, invited func(userID uuid.UUID) (bool, error)) (Access, error) {
	if v != nil && (v.IsStaff || a.IsOwnedBy(v.UserID)) {
		return AccessGranted, nil
	}
	if a.Status == StatusDraft {
		return AccessHidden, nil
	}
	if !a.IsPrivate {
		return AccessGranted, nil
	}
	if v == nil {
		return AccessNeedsIdentity, nil
	}
	ok, err := invited(v.UserID)
	if err != nil {
		return AccessForbidden, err
	}
	if !ok {
		return AccessForbidden, nil
	}
	return AccessGranted, nil
}
