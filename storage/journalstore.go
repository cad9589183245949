package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/journal"
)

// Journal keys live outside the state prefixes on purpose: records are
// not part of the world state and must not affect ComputeRoot.
const (
	prefixJournalRec = "jrnl:"
	prefixJournalSeq = "jseq:"
	keyJournalTip    = "jrnl-tip"
)

// JournalStore implements journal.Store on top of a DB.
type JournalStore struct {
	db DB
}

// NewJournalStore wraps db as a journal.Store.
func NewJournalStore(db DB) *JournalStore {
	return &JournalStore{db: db}
}

func (s *JournalStore) GetRecord(hash string) (*journal.Record, error) {
	data, err := s.db.Get([]byte(prefixJournalRec + hash))
	if err != nil {
		return nil, err
	}
	var r journal.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *JournalStore) GetRecordBySeq(seq int64) (*journal.Record, error) {
	hash, err := s.db.Get([]byte(fmt.Sprintf("%s%d", prefixJournalSeq, seq)))
	if err != nil {
		return nil, err
	}
	return s.GetRecord(string(hash))
}

func (s *JournalStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte(keyJournalTip))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// CommitRecord writes the record, its seq index entry, and the tip
// pointer in one atomic batch.
func (s *JournalStore) CommitRecord(r *journal.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set([]byte(prefixJournalRec+r.Hash), data)
	batch.Set([]byte(fmt.Sprintf("%s%d", prefixJournalSeq, r.Seq)), []byte(r.Hash))
	batch.Set([]byte(keyJournalTip), []byte(r.Hash))
	return batch.Write()
}
