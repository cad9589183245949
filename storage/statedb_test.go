package storage_test

import (
	"errors"
	"testing"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/internal/testutil"
	"github.com/Tell-dev/TixTrust/storage"
)

func listedSet(t *testing.T, s *storage.StateDB) map[uint64]int {
	t.Helper()
	ids, err := s.ListedTickets()
	if err != nil {
		t.Fatalf("ListedTickets: %v", err)
	}
	set := make(map[uint64]int)
	for _, id := range ids {
		set[id]++
	}
	return set
}

// TestListingIndexSetSemantics checks that the listed index holds each
// listed id exactly once, through inserts, re-lists and removals.
func TestListingIndexSetSemantics(t *testing.T) {
	s := testutil.NewStateDB()

	for _, id := range []uint64{1, 2, 3} {
		l := &core.Listing{TicketID: id, Seller: "alice", Price: 100}
		if err := s.SetListing(l); err != nil {
			t.Fatalf("SetListing(%d): %v", id, err)
		}
	}
	// Re-listing must not create a duplicate index entry.
	if err := s.SetListing(&core.Listing{TicketID: 2, Seller: "alice", Price: 105}); err != nil {
		t.Fatalf("re-list: %v", err)
	}

	set := listedSet(t, s)
	if len(set) != 3 {
		t.Fatalf("index size: got %d want 3", len(set))
	}
	for id, n := range set {
		if n != 1 {
			t.Errorf("ticket %d appears %d times in index", id, n)
		}
	}
	l, err := s.GetListing(2)
	if err != nil {
		t.Fatalf("GetListing(2): %v", err)
	}
	if l.Price != 105 {
		t.Errorf("re-list price: got %d want 105", l.Price)
	}
}

// TestListingSwapRemoval removes from the middle and checks every
// remaining id stays findable and removable (i.e. the moved element's
// position was updated).
func TestListingSwapRemoval(t *testing.T) {
	s := testutil.NewStateDB()
	for id := uint64(1); id <= 5; id++ {
		if err := s.SetListing(&core.Listing{TicketID: id, Seller: "a", Price: 10}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteListing(2); err != nil {
		t.Fatalf("DeleteListing(2): %v", err)
	}
	set := listedSet(t, s)
	if len(set) != 4 || set[2] != 0 {
		t.Fatalf("after removal: got %v", set)
	}

	// The swapped-in element (5) must still be removable by value.
	if err := s.DeleteListing(5); err != nil {
		t.Fatalf("DeleteListing(5) after swap: %v", err)
	}
	set = listedSet(t, s)
	if len(set) != 3 || set[5] != 0 {
		t.Fatalf("after second removal: got %v", set)
	}

	// Drain completely; removing a never-listed id is a no-op.
	for _, id := range []uint64{1, 3, 4} {
		if err := s.DeleteListing(id); err != nil {
			t.Fatalf("DeleteListing(%d): %v", id, err)
		}
	}
	if set := listedSet(t, s); len(set) != 0 {
		t.Fatalf("index should be empty, got %v", set)
	}
	if err := s.DeleteListing(99); err != nil {
		t.Errorf("deleting unlisted id: %v", err)
	}
}

// TestListingRollback verifies that listing-ledger mutations revert with
// the snapshot that covers them.
func TestListingRollback(t *testing.T) {
	s := testutil.NewStateDB()
	if err := s.SetListing(&core.Listing{TicketID: 1, Seller: "a", Price: 10}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetListing(&core.Listing{TicketID: 2, Seller: "b", Price: 20}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteListing(1); err != nil {
		t.Fatal(err)
	}
	if err := s.RevertToSnapshot(snap); err != nil {
		t.Fatalf("revert: %v", err)
	}

	set := listedSet(t, s)
	if len(set) != 1 || set[1] != 1 {
		t.Fatalf("after revert: got %v want {1:1}", set)
	}
	if _, err := s.GetListing(2); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("listing 2 should be gone after revert, err=%v", err)
	}
}

// TestPrevBasisSlot checks the rollback-basis slot lifecycle.
func TestPrevBasisSlot(t *testing.T) {
	s := testutil.NewStateDB()

	// Absent slot reads as 0.
	v, err := s.GetPrevBasis(7)
	if err != nil || v != 0 {
		t.Fatalf("absent slot: got (%d, %v) want (0, nil)", v, err)
	}

	if err := s.SetPrevBasis(7, 140); err != nil {
		t.Fatal(err)
	}
	v, err = s.GetPrevBasis(7)
	if err != nil || v != 140 {
		t.Fatalf("slot: got (%d, %v) want (140, nil)", v, err)
	}

	if err := s.DeletePrevBasis(7); err != nil {
		t.Fatal(err)
	}
	v, err = s.GetPrevBasis(7)
	if err != nil || v != 0 {
		t.Fatalf("cleared slot: got (%d, %v) want (0, nil)", v, err)
	}
}

// TestCommitPersists checks that committed data survives a fresh StateDB
// over the same backing store, and that ComputeRoot is stable across the
// flush.
func TestCommitPersists(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)

	st := &core.TicketState{ID: 1, OriginalPrice: 100, LastActivityTime: 42}
	if err := s.SetTicketState(st); err != nil {
		t.Fatal(err)
	}
	if err := s.SetListing(&core.Listing{TicketID: 1, Seller: "a", Price: 110}); err != nil {
		t.Fatal(err)
	}

	rootBefore := s.ComputeRoot()
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root := s.ComputeRoot(); root != rootBefore {
		t.Errorf("root changed across commit: %s vs %s", rootBefore, root)
	}

	reopened := storage.NewStateDB(db)
	got, err := reopened.GetTicketState(1)
	if err != nil {
		t.Fatalf("reopened GetTicketState: %v", err)
	}
	if got.OriginalPrice != 100 || got.LastActivityTime != 42 {
		t.Errorf("persisted state: got %+v", got)
	}
	ids, err := reopened.ListedTickets()
	if err != nil || len(ids) != 1 || ids[0] != 1 {
		t.Errorf("persisted index: got %v (%v)", ids, err)
	}
}

// TestNextTicketIDDefaults checks the mint counter starts at 1.
func TestNextTicketIDDefaults(t *testing.T) {
	s := testutil.NewStateDB()
	id, err := s.NextTicketID()
	if err != nil || id != 1 {
		t.Fatalf("fresh counter: got (%d, %v) want (1, nil)", id, err)
	}
	if err := s.SetNextTicketID(9); err != nil {
		t.Fatal(err)
	}
	id, err = s.NextTicketID()
	if err != nil || id != 9 {
		t.Fatalf("counter: got (%d, %v) want (9, nil)", id, err)
	}
}
