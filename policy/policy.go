// Package policy holds the fixed anti-scalping rules: the resale price
// cap, the per-ticket resale limit, and the per-buyer holding limit.
// The constants are deliberately compile-time fixed rather than runtime
// configurable.
package policy

import "github.com/Tell-dev/TixTrust/core"

const (
	// ResalePercent is the maximum markup over the basis price, in percent.
	ResalePercent = 20
	// ResaleLimit is the maximum number of completed resales per ticket.
	ResaleLimit = 3
	// HoldingLimit is the maximum number of tickets a non-privileged
	// buyer may hold at once.
	HoldingLimit = 4
)

// Cap returns the maximum legal ask price for the given basis price:
// basis plus ResalePercent, with floor (integer) division. Rounding
// down makes the cap buyer-favorable: Cap(101) = 121, not 122.
func Cap(basis uint64) uint64 {
	return basis + basis*ResalePercent/100
}

// Basis returns the cap basis for a ticket: the last sale price, or the
// original price if the ticket has never been sold.
func Basis(st *core.TicketState) uint64 {
	if st.LastSalePrice > 0 {
		return st.LastSalePrice
	}
	return st.OriginalPrice
}
