package market_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/internal/testutil"
	"github.com/Tell-dev/TixTrust/registry"
	"github.com/Tell-dev/TixTrust/storage"
	"github.com/Tell-dev/TixTrust/vm"
	"github.com/Tell-dev/TixTrust/vm/modules/funds"
	"github.com/Tell-dev/TixTrust/wallet"

	_ "github.com/Tell-dev/TixTrust/vm/modules/market"
)

const chainID = "test-market"

type env struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	owner  *wallet.Wallet // registry owner
	seller *wallet.Wallet
	buyer  *wallet.Wallet
	nonces map[string]uint64
}

// newEnv builds a marketplace with a funded buyer and the default
// ledger payer. Tests that need a different payer call withPayer.
func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:      t,
		state:  testutil.NewStateDB(),
		nonces: make(map[string]uint64),
	}
	var err error
	if e.owner, err = wallet.Generate(); err != nil {
		t.Fatal(err)
	}
	if e.seller, err = wallet.Generate(); err != nil {
		t.Fatal(err)
	}
	if e.buyer, err = wallet.Generate(); err != nil {
		t.Fatal(err)
	}
	if err := e.state.SetRegistryOwner(e.owner.PubKey()); err != nil {
		t.Fatal(err)
	}
	if err := e.state.SetAccount(&core.Account{Address: e.buyer.PubKey(), Balance: 10_000}); err != nil {
		t.Fatal(err)
	}
	e.withPayer(funds.LedgerPayer{})
	return e
}

func (e *env) withPayer(p vm.Payer) {
	e.exec = vm.NewExecutor(e.state, p)
	e.exec.SetClock(func() int64 { return 1_700_000_000 })
}

// run signs and executes one transaction, tracking nonces: a failed
// operation must not consume one.
func (e *env) run(w *wallet.Wallet, typ core.TxType, payload any) ([]events.Event, error) {
	e.t.Helper()
	tx, err := w.NewTx(chainID, typ, e.nonces[w.PubKey()], payload)
	if err != nil {
		e.t.Fatalf("build tx: %v", err)
	}
	evs, err := e.exec.ExecuteTx(tx)
	if err == nil {
		e.nonces[w.PubKey()]++
	}
	return evs, err
}

// mintListed mints one ticket to the seller and lists it, returning the id.
func (e *env) mintListed(price, ask uint64) uint64 {
	e.t.Helper()
	if _, err := e.run(e.owner, core.TxMintAndList, core.MintAndListPayload{
		To:            e.seller.PubKey(),
		Prices:        []uint64{price},
		ListingPrices: []uint64{ask},
	}); err != nil {
		e.t.Fatalf("mintListed: %v", err)
	}
	ids, err := e.state.ListedTickets()
	if err != nil || len(ids) == 0 {
		e.t.Fatalf("no listed tickets after mint (%v)", err)
	}
	return ids[len(ids)-1]
}

func (e *env) balance(w *wallet.Wallet) uint64 {
	e.t.Helper()
	acc, err := e.state.GetAccount(w.PubKey())
	if err != nil {
		e.t.Fatalf("GetAccount: %v", err)
	}
	return acc.Balance
}

func (e *env) ticketState(id uint64) *core.TicketState {
	e.t.Helper()
	st, err := e.state.GetTicketState(id)
	if err != nil {
		e.t.Fatalf("GetTicketState(%d): %v", id, err)
	}
	return st
}

func (e *env) isListed(id uint64) bool {
	e.t.Helper()
	_, err := e.state.GetListing(id)
	if errors.Is(err, core.ErrNotFound) {
		return false
	}
	if err != nil {
		e.t.Fatalf("GetListing(%d): %v", id, err)
	}
	return true
}

func hasEvent(evs []events.Event, typ events.EventType) bool {
	for _, ev := range evs {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

// TestMintAndList covers the happy path of the batch mint.
func TestMintAndList(t *testing.T) {
	e := newEnv(t)
	evs, err := e.run(e.owner, core.TxMintAndList, core.MintAndListPayload{
		To:            e.seller.PubKey(),
		Prices:        []uint64{100, 200},
		ListingPrices: []uint64{110, 240},
	})
	if err != nil {
		t.Fatalf("mint_and_list: %v", err)
	}
	if !hasEvent(evs, events.EventTicketMinted) || !hasEvent(evs, events.EventTicketListed) {
		t.Errorf("expected minted+listed events, got %v", evs)
	}

	ids, _ := e.state.ListedTickets()
	if len(ids) != 2 {
		t.Fatalf("listed count: got %d want 2", len(ids))
	}
	st := e.ticketState(1)
	if st.OriginalPrice != 100 || st.ResaleCount != 0 || st.LastSalePrice != 0 {
		t.Errorf("ticket 1 state: %+v", st)
	}
	reg := registry.New(e.state)
	owner, _ := reg.OwnerOf(1)
	if owner != e.seller.PubKey() {
		t.Errorf("ticket 1 owner: got %q want seller", owner)
	}
}

// TestMintAndListRejections checks authorization, shape, and cap failures,
// and that a failing element reverts the whole batch.
func TestMintAndListRejections(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(e.seller, core.TxMintAndList, core.MintAndListPayload{
		To: e.seller.PubKey(), Prices: []uint64{100}, ListingPrices: []uint64{110},
	})
	if !errors.Is(err, core.ErrNotOwner) {
		t.Errorf("non-owner mint: got %v want ErrNotOwner", err)
	}

	_, err = e.run(e.owner, core.TxMintAndList, core.MintAndListPayload{
		To: e.seller.PubKey(), Prices: []uint64{100, 200}, ListingPrices: []uint64{110},
	})
	if !errors.Is(err, core.ErrLengthMismatch) {
		t.Errorf("length mismatch: got %v want ErrLengthMismatch", err)
	}

	// Second element over cap: cap(200) = 240, ask 241.
	_, err = e.run(e.owner, core.TxMintAndList, core.MintAndListPayload{
		To: e.seller.PubKey(), Prices: []uint64{100, 200}, ListingPrices: []uint64{110, 241},
	})
	if !errors.Is(err, core.ErrCapExceeded) {
		t.Errorf("over-cap mint: got %v want ErrCapExceeded", err)
	}

	// Nothing from any failed batch may persist, including element 1 of
	// the partially valid one.
	ids, _ := e.state.ListedTickets()
	if len(ids) != 0 {
		t.Errorf("listed after failures: got %v want empty", ids)
	}
	if _, err := e.state.GetTicket(1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ticket 1 should not exist, err=%v", err)
	}
}

// TestListTicket covers resale listing and its rejections.
func TestListTicket(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)

	// Buy so the seller role moves to the buyer, then relist.
	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Not the owner anymore.
	_, err := e.run(e.seller, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 100})
	if !errors.Is(err, core.ErrNotOwner) {
		t.Errorf("list by former owner: got %v want ErrNotOwner", err)
	}

	// Over cap: basis is the 110 sale, cap 132.
	_, err = e.run(e.buyer, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 133})
	if !errors.Is(err, core.ErrCapExceeded) {
		t.Errorf("over-cap list: got %v want ErrCapExceeded", err)
	}
	if e.isListed(id) {
		t.Error("failed list must leave the ledger unchanged")
	}

	evs, err := e.run(e.buyer, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 132})
	if err != nil {
		t.Fatalf("list at cap: %v", err)
	}
	if !hasEvent(evs, events.EventTicketListed) {
		t.Error("expected listed event")
	}
	st := e.ticketState(id)
	if st.LastSalePrice != 132 {
		t.Errorf("basis after list: got %d want 132", st.LastSalePrice)
	}
	prev, _ := e.state.GetPrevBasis(id)
	if prev != 110 {
		t.Errorf("rollback slot: got %d want 110", prev)
	}
}

// TestCancelListing verifies the basis restore and the seller-only gate.
func TestCancelListing(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)
	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(e.buyer, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 120}); err != nil {
		t.Fatal(err)
	}
	stBefore := e.ticketState(id)

	// Non-seller cancel, including "no listing" typed as not-seller.
	if _, err := e.run(e.seller, core.TxCancelListing, core.CancelListingPayload{TicketID: id}); !errors.Is(err, core.ErrNotSeller) {
		t.Errorf("cancel by non-seller: got %v want ErrNotSeller", err)
	}
	if _, err := e.run(e.seller, core.TxCancelListing, core.CancelListingPayload{TicketID: 999}); !errors.Is(err, core.ErrNotSeller) {
		t.Errorf("cancel missing listing: got %v want ErrNotSeller", err)
	}

	evs, err := e.run(e.buyer, core.TxCancelListing, core.CancelListingPayload{TicketID: id})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !hasEvent(evs, events.EventListingCancel) {
		t.Error("expected cancelled event")
	}
	if e.isListed(id) {
		t.Error("ticket still listed after cancel")
	}
	st := e.ticketState(id)
	if st.LastSalePrice != 110 {
		t.Errorf("basis after cancel: got %d want 110 (pre-list value)", st.LastSalePrice)
	}
	if st.ResaleCount != stBefore.ResaleCount {
		t.Errorf("resale count changed by cancel: %d → %d", stBefore.ResaleCount, st.ResaleCount)
	}
}

// TestBuyTicket is the end-to-end purchase scenario from the mint at 100
// through the 110 sale.
func TestBuyTicket(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)
	sellerBefore := e.balance(e.seller)
	buyerBefore := e.balance(e.buyer)

	evs, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !hasEvent(evs, events.EventTicketBought) {
		t.Error("expected bought event")
	}

	st := e.ticketState(id)
	if st.ResaleCount != 1 {
		t.Errorf("resale count: got %d want 1", st.ResaleCount)
	}
	if st.LastSalePrice != 110 {
		t.Errorf("last sale price: got %d want 110", st.LastSalePrice)
	}
	if e.isListed(id) {
		t.Error("ticket still listed after buy")
	}
	if got := e.balance(e.seller); got != sellerBefore+110 {
		t.Errorf("seller balance: got %d want %d", got, sellerBefore+110)
	}
	if got := e.balance(e.buyer); got != buyerBefore-110 {
		t.Errorf("buyer balance: got %d want %d", got, buyerBefore-110)
	}
	owner, _ := registry.New(e.state).OwnerOf(id)
	if owner != e.buyer.PubKey() {
		t.Errorf("owner after buy: got %q want buyer", owner)
	}
}

// TestBuyRejections covers not-listed, self-trade and wrong-amount, each
// leaving state untouched.
func TestBuyRejections(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)

	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: 999, Payment: 110}); !errors.Is(err, core.ErrNotListed) {
		t.Errorf("buy unlisted: got %v want ErrNotListed", err)
	}
	if _, err := e.run(e.seller, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110}); !errors.Is(err, core.ErrSelfTrade) {
		t.Errorf("self trade: got %v want ErrSelfTrade", err)
	}
	for _, payment := range []uint64{109, 111} {
		if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: payment}); !errors.Is(err, core.ErrWrongAmount) {
			t.Errorf("payment %d: got %v want ErrWrongAmount", payment, err)
		}
	}

	if !e.isListed(id) {
		t.Error("failed buys must leave the listing in place")
	}
	st := e.ticketState(id)
	if st.ResaleCount != 0 {
		t.Errorf("resale count after failed buys: got %d want 0", st.ResaleCount)
	}
	if got := e.balance(e.buyer); got != 10_000 {
		t.Errorf("buyer balance after failed buys: got %d want 10000", got)
	}
}

// TestResaleLimit walks a ticket through three legitimate resales and
// checks the fourth attempt is rejected on both paths.
func TestResaleLimit(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 100)

	holders := []*wallet.Wallet{e.seller}
	for i := 0; i < 3; i++ {
		next, err := wallet.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if err := e.state.SetAccount(&core.Account{Address: next.PubKey(), Balance: 10_000}); err != nil {
			t.Fatal(err)
		}
		if i > 0 {
			// The current holder relists at the unchanged basis.
			cur := holders[len(holders)-1]
			if _, err := e.run(cur, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 100}); err != nil {
				t.Fatalf("relist %d: %v", i, err)
			}
		}
		if _, err := e.run(next, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 100}); err != nil {
			t.Fatalf("resale %d: %v", i+1, err)
		}
		holders = append(holders, next)
	}

	st := e.ticketState(id)
	if st.ResaleCount != 3 {
		t.Fatalf("resale count: got %d want 3", st.ResaleCount)
	}

	last := holders[len(holders)-1]
	if _, err := e.run(last, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 100}); !errors.Is(err, core.ErrResaleLimitExceeded) {
		t.Errorf("4th list: got %v want ErrResaleLimitExceeded", err)
	}
}

// TestHoldingLimit checks that a buyer already holding four tickets
// cannot buy a fifth, while the registry owner is exempt.
func TestHoldingLimit(t *testing.T) {
	e := newEnv(t)

	// Fill the buyer's inventory with four tickets.
	for i := 0; i < 4; i++ {
		id := e.mintListed(100, 100)
		if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 100}); err != nil {
			t.Fatalf("fill buy %d: %v", i, err)
		}
	}

	id := e.mintListed(100, 100)
	_, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 100})
	if !errors.Is(err, core.ErrHoldingLimitExceeded) {
		t.Fatalf("5th buy: got %v want ErrHoldingLimitExceeded", err)
	}
	if !e.isListed(id) {
		t.Error("rejected buy must leave the listing in place")
	}

	// The registry owner is not subject to the holding limit.
	if err := e.state.SetAccount(&core.Account{
		Address: e.owner.PubKey(), Balance: 1_000, Nonce: e.nonces[e.owner.PubKey()],
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(e.owner, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 100}); err != nil {
		t.Errorf("registry owner buy: %v", err)
	}
}

// failingPayer always rejects the settlement.
type failingPayer struct{}

func (failingPayer) Transfer(core.State, string, string, uint64) error {
	return fmt.Errorf("settlement service unavailable")
}

// TestBuyPaymentFailureRollsBack verifies that a failed payment restores
// the listing and the economic record exactly as they were.
func TestBuyPaymentFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)
	e.withPayer(failingPayer{})

	stBefore := e.ticketState(id)
	_, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110})
	if !errors.Is(err, core.ErrTransferFailed) {
		t.Fatalf("buy with failing payer: got %v want ErrTransferFailed", err)
	}

	if !e.isListed(id) {
		t.Error("listing must survive a failed payment")
	}
	st := e.ticketState(id)
	if *st != *stBefore {
		t.Errorf("ticket state mutated: before %+v after %+v", stBefore, st)
	}
	if got := e.balance(e.buyer); got != 10_000 {
		t.Errorf("buyer balance: got %d want 10000", got)
	}
	if got := e.balance(e.seller); got != 0 {
		t.Errorf("seller balance: got %d want 0", got)
	}
}

// reentrantPayer attempts a nested purchase from inside the payment
// call, records what it observed, then settles honestly.
type reentrantPayer struct {
	e        *env
	attacker *wallet.Wallet
	ticketID uint64

	innerErr       error
	sawUnlisted    bool
	sawCountBumped bool
}

func (p *reentrantPayer) Transfer(st core.State, from, to string, amount uint64) error {
	// Structural defense: bookkeeping is already committed, so the
	// ticket reads as unlisted and resold even mid-operation.
	if _, err := st.GetListing(p.ticketID); errors.Is(err, core.ErrNotFound) {
		p.sawUnlisted = true
	}
	if ts, err := st.GetTicketState(p.ticketID); err == nil && ts.ResaleCount == 1 {
		p.sawCountBumped = true
	}

	// Guard defense: a nested buy of the same ticket is rejected
	// outright. The nonce accounts for the in-flight outer purchase.
	tx, err := p.attacker.NewTx(chainID, core.TxBuyTicket,
		p.e.nonces[p.attacker.PubKey()]+1,
		core.BuyTicketPayload{TicketID: p.ticketID, Payment: amount})
	if err != nil {
		return err
	}
	_, p.innerErr = p.e.exec.ExecuteTx(tx)

	return funds.LedgerPayer{}.Transfer(st, from, to, amount)
}

// TestBuyReentrancy verifies both layers of the reentrancy defense.
func TestBuyReentrancy(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 110)

	payer := &reentrantPayer{e: e, attacker: e.buyer, ticketID: id}
	e.withPayer(payer)

	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 110}); err != nil {
		t.Fatalf("outer buy: %v", err)
	}

	if !errors.Is(payer.innerErr, core.ErrReentrantCall) {
		t.Errorf("nested buy: got %v want ErrReentrantCall", payer.innerErr)
	}
	if !payer.sawUnlisted {
		t.Error("reentrant code should see the ticket already unlisted")
	}
	if !payer.sawCountBumped {
		t.Error("reentrant code should see the resale count already incremented")
	}

	// The outer purchase itself must have completed normally.
	st := e.ticketState(id)
	if st.ResaleCount != 1 || st.LastSalePrice != 110 {
		t.Errorf("final state: %+v", st)
	}
	if got := e.balance(e.seller); got != 110 {
		t.Errorf("seller balance: got %d want 110", got)
	}
}

// TestResaleCountNeverExceedsLimit sweeps every ticket after a busy
// session and asserts the global bound.
func TestResaleCountNeverExceedsLimit(t *testing.T) {
	e := newEnv(t)
	id := e.mintListed(100, 100)
	id2 := e.mintListed(50, 60)

	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id, Payment: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(e.buyer, core.TxBuyTicket, core.BuyTicketPayload{TicketID: id2, Payment: 60}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(e.buyer, core.TxListTicket, core.ListTicketPayload{TicketID: id, Price: 110}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(e.buyer, core.TxCancelListing, core.CancelListingPayload{TicketID: id}); err != nil {
		t.Fatal(err)
	}

	for _, tid := range []uint64{id, id2} {
		if st := e.ticketState(tid); st.ResaleCount > 3 {
			t.Errorf("ticket %d resale count %d exceeds limit", tid, st.ResaleCount)
		}
	}
}
