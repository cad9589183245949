// Package journal maintains a tamper-evident log of applied operations.
// Each committed transaction appends one signed record, hash-chained to
// the previous one and carrying the state root after the operation, so
// an auditor can verify both ordering and resulting state.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Tell-dev/TixTrust/crypto"
)

// GenesisHash is the canonical all-zeros previous hash of record #1.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// IsGenesisHash returns true if h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return len(h) == 64 && strings.Count(h, "0") == 64
}

// recordBody contains the fields that are hashed and signed.
type recordBody struct {
	Seq       int64  `json:"seq"`
	PrevHash  string `json:"prev_hash"`
	TxID      string `json:"tx_id"`
	TxType    string `json:"tx_type"`
	StateRoot string `json:"state_root"`
	Timestamp int64  `json:"timestamp"`
}

// Record is one journal entry.
type Record struct {
	Seq       int64  `json:"seq"`
	PrevHash  string `json:"prev_hash"`
	TxID      string `json:"tx_id"`
	TxType    string `json:"tx_type"`
	StateRoot string `json:"state_root"` // state root after applying TxID
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised record body.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (r *Record) ComputeHash() string {
	body := recordBody{
		Seq:       r.Seq,
		PrevHash:  r.PrevHash,
		TxID:      r.TxID,
		TxType:    r.TxType,
		StateRoot: r.StateRoot,
		Timestamp: r.Timestamp,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the record with the service key.
func (r *Record) Sign(priv crypto.PrivateKey) {
	r.Hash = r.ComputeHash()
	r.Signature = crypto.Sign(priv, []byte(r.Hash))
}

// Verify checks the record signature against the given public key.
func (r *Record) Verify(pub crypto.PublicKey) error {
	if r.ComputeHash() != r.Hash {
		return fmt.Errorf("record %d hash mismatch", r.Seq)
	}
	return crypto.Verify(pub, []byte(r.Hash), r.Signature)
}

// Store is the persistence interface used by Journal.
// Implementations live in the storage package.
type Store interface {
	GetRecord(hash string) (*Record, error)
	GetRecordBySeq(seq int64) (*Record, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh journal.
	GetTip() (string, error)
	// CommitRecord atomically writes the record, its seq index entry,
	// and the tip pointer in a single batch operation.
	CommitRecord(r *Record) error
}

// Journal manages the append-only record chain and tracks the tip.
type Journal struct {
	mu    sync.RWMutex
	store Store
	tip   *Record
	seq   int64
}

// New returns a Journal backed by store.
// Call Init() to load an existing tip from storage.
func New(store Store) *Journal {
	return &Journal{store: store}
}

// Init loads the persisted tip from the store.
func (j *Journal) Init() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tipHash, err := j.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil // fresh journal
	}
	tip, err := j.store.GetRecord(tipHash)
	if err != nil {
		return fmt.Errorf("load tip record: %w", err)
	}
	j.tip = tip
	j.seq = tip.Seq
	return nil
}

// Append validates seq continuity and PrevHash linkage, then persists
// the record and advances the tip.
func (j *Journal) Append(r *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.tip == nil {
		if r.Seq != 1 {
			return fmt.Errorf("first record must have seq 1, got %d", r.Seq)
		}
		if !IsGenesisHash(r.PrevHash) {
			return fmt.Errorf("first record must reference the genesis prev-hash")
		}
	} else {
		if r.Seq != j.seq+1 {
			return fmt.Errorf("record seq %d does not follow tip %d", r.Seq, j.seq)
		}
		if r.PrevHash != j.tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", r.PrevHash, j.tip.Hash)
		}
	}

	if err := j.store.CommitRecord(r); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	j.tip = r
	j.seq = r.Seq
	return nil
}

// Tip returns the current tip record, or nil for a fresh journal.
func (j *Journal) Tip() *Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tip
}

// Height returns the seq of the current tip (0 for a fresh journal).
func (j *Journal) Height() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.seq
}

// GetRecord returns a record by hash.
func (j *Journal) GetRecord(hash string) (*Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.store.GetRecord(hash)
}

// GetRecordBySeq returns the record at the given sequence number.
func (j *Journal) GetRecordBySeq(seq int64) (*Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.store.GetRecordBySeq(seq)
}
