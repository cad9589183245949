// Package market implements the resale controller: mint-and-list,
// list, cancel, and buy, with the anti-scalping policy enforced on
// every path.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/policy"
	"github.com/Tell-dev/TixTrust/registry"
	"github.com/Tell-dev/TixTrust/vm"
)

func init() {
	vm.Register(core.TxMintAndList, handleMintAndList)
	vm.Register(core.TxListTicket, handleListTicket)
	vm.Register(core.TxCancelListing, handleCancelListing)
	vm.Register(core.TxBuyTicket, handleBuyTicket)
}

// handleMintAndList mints a batch of tickets to one recipient and lists
// each at its initial ask price. The whole batch is one atomic unit: a
// failing element aborts the transaction and the executor reverts every
// mint performed so far.
func handleMintAndList(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.Guard.Enter(); err != nil {
		return err
	}
	defer ctx.Guard.Exit()

	var p core.MintAndListPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_and_list payload: %w", err)
	}

	reg := registry.New(ctx.State)
	owner, err := reg.Owner()
	if err != nil {
		return err
	}
	if owner == "" || ctx.Tx.From != owner {
		return fmt.Errorf("mint requires the registry owner: %w", core.ErrNotOwner)
	}
	if len(p.Prices) != len(p.ListingPrices) {
		return core.ErrLengthMismatch
	}

	for i, price := range p.Prices {
		id, err := reg.Mint(p.To, ctx.Time)
		if err != nil {
			return fmt.Errorf("mint element %d: %w", i, err)
		}

		if _, err := ctx.State.GetTicketState(id); err == nil {
			return fmt.Errorf("ticket %d already has an economic record", id)
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		st := &core.TicketState{
			ID:               id,
			OriginalPrice:    price,
			LastActivityTime: ctx.Time,
		}
		if err := ctx.State.SetTicketState(st); err != nil {
			return err
		}

		ask := p.ListingPrices[i]
		if ask > policy.Cap(price) {
			return fmt.Errorf("ticket %d ask %d over cap %d: %w",
				id, ask, policy.Cap(price), core.ErrCapExceeded)
		}
		if err := ctx.State.SetPrevBasis(id, 0); err != nil {
			return err
		}
		l := &core.Listing{TicketID: id, Seller: p.To, Price: ask, CreatedAt: ctx.Time}
		if err := ctx.State.SetListing(l); err != nil {
			return err
		}

		ctx.Notify(events.Event{
			Type: events.EventTicketMinted,
			Data: map[string]any{"ticket_id": id, "owner": p.To, "original_price": price},
		})
		ctx.Notify(events.Event{
			Type: events.EventTicketListed,
			Data: map[string]any{"ticket_id": id, "price": ask},
		})
	}
	return nil
}

// handleListTicket puts a ticket up for resale. The ask price becomes
// the new sale-price basis immediately; the previous basis is kept in
// the rollback slot so a cancel can restore it.
func handleListTicket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListTicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode list_ticket payload: %w", err)
	}

	reg := registry.New(ctx.State)
	owner, err := reg.OwnerOf(p.TicketID)
	if err != nil {
		return err
	}
	if owner != ctx.Tx.From {
		return core.ErrNotOwner
	}

	st, err := ctx.State.GetTicketState(p.TicketID)
	if err != nil {
		return fmt.Errorf("ticket %d state: %w", p.TicketID, err)
	}
	cap := policy.Cap(policy.Basis(st))
	if p.Price > cap {
		return fmt.Errorf("ask %d over cap %d: %w", p.Price, cap, core.ErrCapExceeded)
	}
	if st.ResaleCount >= policy.ResaleLimit {
		return core.ErrResaleLimitExceeded
	}

	if err := ctx.State.SetPrevBasis(p.TicketID, st.LastSalePrice); err != nil {
		return err
	}
	st.LastSalePrice = p.Price
	if err := ctx.State.SetTicketState(st); err != nil {
		return err
	}
	l := &core.Listing{TicketID: p.TicketID, Seller: ctx.Tx.From, Price: p.Price, CreatedAt: ctx.Time}
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}

	ctx.Notify(events.Event{
		Type: events.EventTicketListed,
		Data: map[string]any{"ticket_id": p.TicketID, "price": p.Price},
	})
	return nil
}

// handleCancelListing withdraws a listing and restores the sale-price
// basis that was in effect before it was created.
func handleCancelListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CancelListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_listing payload: %w", err)
	}

	// A missing listing reads as the zero sentinel: its Seller is "",
	// which can never equal a caller identity.
	l, err := ctx.State.GetListing(p.TicketID)
	if errors.Is(err, core.ErrNotFound) {
		l = &core.Listing{}
	} else if err != nil {
		return err
	}
	if l.Seller != ctx.Tx.From {
		return core.ErrNotSeller
	}

	prev, err := ctx.State.GetPrevBasis(p.TicketID)
	if err != nil {
		return err
	}
	st, err := ctx.State.GetTicketState(p.TicketID)
	if err != nil {
		return fmt.Errorf("ticket %d state: %w", p.TicketID, err)
	}
	st.LastSalePrice = prev
	if err := ctx.State.SetTicketState(st); err != nil {
		return err
	}
	if err := ctx.State.DeletePrevBasis(p.TicketID); err != nil {
		return err
	}
	if err := ctx.State.DeleteListing(p.TicketID); err != nil {
		return err
	}

	ctx.Notify(events.Event{
		Type: events.EventListingCancel,
		Data: map[string]any{"ticket_id": p.TicketID},
	})
	return nil
}

// handleBuyTicket settles a purchase. All internal bookkeeping is
// committed before the external payment call so a reentrant caller sees
// the ticket as already unlisted and already resold; the guard rejects
// nested guarded operations outright. A payment failure aborts the
// transaction and the executor reverts the bookkeeping.
func handleBuyTicket(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.Guard.Enter(); err != nil {
		return err
	}
	defer ctx.Guard.Exit()

	var p core.BuyTicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_ticket payload: %w", err)
	}

	l, err := ctx.State.GetListing(p.TicketID)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrNotListed
	}
	if err != nil {
		return err
	}
	if l.Seller == ctx.Tx.From {
		return core.ErrSelfTrade
	}
	if p.Payment != l.Price {
		return fmt.Errorf("payment %d, listing price %d: %w", p.Payment, l.Price, core.ErrWrongAmount)
	}

	// Re-validate policy against current state. The basis may have
	// drifted since listing time, so the listing-time check is not
	// trusted here.
	st, err := ctx.State.GetTicketState(p.TicketID)
	if err != nil {
		return fmt.Errorf("ticket %d state: %w", p.TicketID, err)
	}
	cap := policy.Cap(policy.Basis(st))
	if l.Price > cap {
		return fmt.Errorf("price %d over cap %d: %w", l.Price, cap, core.ErrCapExceeded)
	}
	if st.ResaleCount >= policy.ResaleLimit {
		return core.ErrResaleLimitExceeded
	}

	reg := registry.New(ctx.State)
	regOwner, err := reg.Owner()
	if err != nil {
		return err
	}
	if ctx.Tx.From != regOwner {
		held, err := reg.BalanceOf(ctx.Tx.From)
		if err != nil {
			return err
		}
		if held >= policy.HoldingLimit {
			return core.ErrHoldingLimitExceeded
		}
	}

	// (a) economic record first.
	st.ResaleCount++
	st.LastSalePrice = p.Payment
	st.LastActivityTime = ctx.Time
	if err := ctx.State.SetTicketState(st); err != nil {
		return err
	}
	if err := ctx.State.DeletePrevBasis(p.TicketID); err != nil {
		return err
	}
	// (b) listing gone before any external code runs.
	if err := ctx.State.DeleteListing(p.TicketID); err != nil {
		return err
	}
	// (c) external payment transfer. May run arbitrary code.
	if err := ctx.Payer.Transfer(ctx.State, ctx.Tx.From, l.Seller, p.Payment); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransferFailed, err)
	}
	// (d) ownership handover.
	if err := reg.Transfer(p.TicketID, l.Seller, ctx.Tx.From); err != nil {
		return err
	}

	// (e) notification.
	ctx.Notify(events.Event{
		Type: events.EventTicketBought,
		Data: map[string]any{
			"ticket_id": p.TicketID,
			"buyer":     ctx.Tx.From,
			"seller":    l.Seller,
			"price":     p.Payment,
		},
	})
	return nil
}
