// Package registry implements the ticket registry: identity, ownership,
// and the transfer primitive for numbered tickets. It owns no economic
// state; prices and resale history belong to the marketplace.
package registry

import (
	"errors"
	"fmt"

	"github.com/Tell-dev/TixTrust/core"
)

// Registry operates on tickets stored in a core.State. All mutations go
// through the state write buffer so they participate in the caller's
// snapshot/rollback.
type Registry struct {
	state core.State
}

// New creates a Registry over state.
func New(state core.State) *Registry {
	return &Registry{state: state}
}

// Owner returns the registry owner address (the only identity allowed to
// mint), or "" when genesis has not set one.
func (r *Registry) Owner() (string, error) {
	return r.state.RegistryOwner()
}

// Mint creates a new ticket owned by to and returns its id. Ids are
// sequential starting at 1.
func (r *Registry) Mint(to string, now int64) (uint64, error) {
	if to == "" {
		return 0, errors.New("recipient address required")
	}
	id, err := r.state.NextTicketID()
	if err != nil {
		return 0, err
	}
	if err := r.state.SetNextTicketID(id + 1); err != nil {
		return 0, err
	}
	if err := r.state.SetTicket(&core.Ticket{ID: id, Owner: to, MintedAt: now}); err != nil {
		return 0, err
	}
	if err := r.addToOwner(to, id); err != nil {
		return 0, err
	}
	return id, nil
}

// OwnerOf returns the current owner of ticket id.
func (r *Registry) OwnerOf(id uint64) (string, error) {
	t, err := r.state.GetTicket(id)
	if err != nil {
		return "", fmt.Errorf("ticket %d: %w", id, err)
	}
	return t.Owner, nil
}

// Transfer moves ticket id from its current owner to to. It fails when
// from is not the current owner.
func (r *Registry) Transfer(id uint64, from, to string) error {
	t, err := r.state.GetTicket(id)
	if err != nil {
		return fmt.Errorf("ticket %d: %w", id, err)
	}
	if t.Owner != from {
		return core.ErrNotOwner
	}
	t.Owner = to
	if err := r.state.SetTicket(t); err != nil {
		return err
	}
	if err := r.removeFromOwner(from, id); err != nil {
		return err
	}
	return r.addToOwner(to, id)
}

// TicketsOfOwner enumerates the ids held by address.
func (r *Registry) TicketsOfOwner(address string) ([]uint64, error) {
	return r.state.TicketsOfOwner(address)
}

// BalanceOf returns how many tickets address currently holds.
func (r *Registry) BalanceOf(address string) (int, error) {
	ids, err := r.state.TicketsOfOwner(address)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *Registry) addToOwner(address string, id uint64) error {
	ids, err := r.state.TicketsOfOwner(address)
	if err != nil {
		return err
	}
	return r.state.SetTicketsOfOwner(address, append(ids, id))
}

func (r *Registry) removeFromOwner(address string, id uint64) error {
	ids, err := r.state.TicketsOfOwner(address)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, v := range ids {
		if v != id {
			filtered = append(filtered, v)
		}
	}
	return r.state.SetTicketsOfOwner(address, filtered)
}
