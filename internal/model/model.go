package model

import "time"

// Food is the stored record of one sellable item.
type Food struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Quantity  uint64    `json:"quantity"`
	Price     Amount    `json:"price"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsAdded   bool      `json:"isAdded"`
}

// MaxExpiresAt is the latest expiry every encoding of a Food can hold: RFC 3339
// timestamps stop at year 9999.
var MaxExpiresAt = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)

// Expired reports whether the item can no longer be sold at now.
func (f Food) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// Meta is the ledger-wide state stored next to the item records.
type Meta struct {
	Owner   Identity `json:"owner"`
	Balance Amount   `json:"balance"`
	LastSeq int64    `json:"lastSeq"`
}
