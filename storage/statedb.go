package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount     = registerPrefix("acct:")
	prefixTicket      = registerPrefix("tkt:")
	prefixTicketState = registerPrefix("tst:")
	prefixMarket      = registerPrefix("mkt:")
	prefixOwner       = registerPrefix("own:")
	prefixRegistry    = registerPrefix("reg:")
)

// Market sub-keys. All live under prefixMarket so the root computation
// covers them.
const (
	keyListingIndex = "mkt:idx"
	subListing      = "mkt:lst:"
	subListingPos   = "mkt:pos:"
	subPrevBasis    = "mkt:prev:"
)

// Registry sub-keys.
const (
	keyRegistryOwner = "reg:owner"
	keyNextTicketID  = "reg:nextid"
)

func idKey(prefix string, id uint64) string {
	return prefix + strconv.FormatUint(id, 10)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Ticket (registry record) ----

func (s *StateDB) GetTicket(id uint64) (*core.Ticket, error) {
	var t core.Ticket
	if err := s.getJSON(idKey(prefixTicket, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTicket(t *core.Ticket) error {
	return s.setJSON(idKey(prefixTicket, t.ID), t)
}

func (s *StateDB) TicketsOfOwner(address string) ([]uint64, error) {
	var ids []uint64
	err := s.getJSON(prefixOwner+address, &ids)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *StateDB) SetTicketsOfOwner(address string, ids []uint64) error {
	if len(ids) == 0 {
		s.del(prefixOwner + address)
		return nil
	}
	return s.setJSON(prefixOwner+address, ids)
}

// ---- TicketState (economic record) ----

func (s *StateDB) GetTicketState(id uint64) (*core.TicketState, error) {
	var st core.TicketState
	if err := s.getJSON(idKey(prefixTicketState, id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetTicketState(st *core.TicketState) error {
	return s.setJSON(idKey(prefixTicketState, st.ID), st)
}

// ---- Listings ----

func (s *StateDB) GetListing(id uint64) (*core.Listing, error) {
	var l core.Listing
	if err := s.getJSON(idKey(subListing, id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// SetListing upserts the listing record. The ticket id is appended to
// the listed index only when it is not already present, so re-listing a
// ticket can never produce a duplicate index entry.
func (s *StateDB) SetListing(l *core.Listing) error {
	_, err := s.get(idKey(subListingPos, l.TicketID))
	if errors.Is(err, core.ErrNotFound) {
		ids, err := s.ListedTickets()
		if err != nil {
			return err
		}
		ids = append(ids, l.TicketID)
		if err := s.setJSON(keyListingIndex, ids); err != nil {
			return err
		}
		if err := s.setJSON(idKey(subListingPos, l.TicketID), uint64(len(ids)-1)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return s.setJSON(idKey(subListing, l.TicketID), l)
}

// DeleteListing removes the listing record and takes the ticket id out
// of the listed index by overwriting it with the last element and
// shrinking the slice: O(1) amortized, order not preserved.
func (s *StateDB) DeleteListing(id uint64) error {
	var pos uint64
	err := s.getJSON(idKey(subListingPos, id), &pos)
	if errors.Is(err, core.ErrNotFound) {
		s.del(idKey(subListing, id))
		return nil
	}
	if err != nil {
		return err
	}

	ids, err := s.ListedTickets()
	if err != nil {
		return err
	}
	if int(pos) >= len(ids) || ids[pos] != id {
		return fmt.Errorf("listing index corrupt: ticket %d at position %d", id, pos)
	}

	last := ids[len(ids)-1]
	ids[pos] = last
	ids = ids[:len(ids)-1]
	if last != id {
		if err := s.setJSON(idKey(subListingPos, last), pos); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		s.del(keyListingIndex)
	} else if err := s.setJSON(keyListingIndex, ids); err != nil {
		return err
	}
	s.del(idKey(subListingPos, id))
	s.del(idKey(subListing, id))
	return nil
}

// ListedTickets returns the ids of all currently listed tickets. The
// order is unspecified and may change after any removal.
func (s *StateDB) ListedTickets() ([]uint64, error) {
	var ids []uint64
	err := s.getJSON(keyListingIndex, &ids)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ---- Rollback-basis slot ----

// GetPrevBasis returns the sale-price basis in effect before the current
// listing was created. An absent slot reads as 0.
func (s *StateDB) GetPrevBasis(id uint64) (uint64, error) {
	var price uint64
	err := s.getJSON(idKey(subPrevBasis, id), &price)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (s *StateDB) SetPrevBasis(id uint64, price uint64) error {
	return s.setJSON(idKey(subPrevBasis, id), price)
}

func (s *StateDB) DeletePrevBasis(id uint64) error {
	s.del(idKey(subPrevBasis, id))
	return nil
}

// ---- Registry records ----

func (s *StateDB) RegistryOwner() (string, error) {
	data, err := s.get(keyRegistryOwner)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetRegistryOwner(address string) error {
	s.set(keyRegistryOwner, []byte(address))
	return nil
}

// NextTicketID returns the id the next mint will use. Ids start at 1.
func (s *StateDB) NextTicketID() (uint64, error) {
	var id uint64
	err := s.getJSON(keyNextTicketID, &id)
	if errors.Is(err, core.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *StateDB) SetNextTicketID(id uint64) error {
	return s.setJSON(keyNextTicketID, id)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete marketplace
// state. It merges all persisted state entries (scanned from DB by the
// known state prefixes) with the current write buffer, then hashes the
// sorted key-value pairs using length-prefix encoding. It does NOT flush
// or modify state, so it is safe to call before appending a journal record.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before appending the
// journal record, then call Commit() after the record is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
