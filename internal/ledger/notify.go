package ledger

import "time"

// Notification types published after a successful commit.
const (
	NoteAccountOpened    = "account_opened"
	NoteDeposit          = "deposit"
	NoteWithdrawal       = "withdrawal"
	NoteInvestment       = "investment"
	NoteListingCreated   = "listing_created"
	NoteListingFulfilled = "listing_fulfilled"
	NoteListingCancelled = "listing_cancelled"
	NoteMarkPublished    = "mark_published"
)

// Notification describes one committed ledger change. Amounts are decimal
// strings.
type Notification struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	ListingID string    `json:"listing_id,omitempty"`
	Shares    int64     `json:"shares,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Available *int64    `json:"available_shares,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives notifications. Publish must not block the caller.
type Notifier interface {
	Publish(n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Notification) {}
