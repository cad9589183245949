// Package engine is the execution environment of the marketplace: it
// applies signed transactions strictly one at a time, journals each
// committed operation, and emits notifications only after the
// operation's mutations have been flushed to disk.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/crypto"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/journal"
	"github.com/Tell-dev/TixTrust/vm"
)

// Engine serializes transaction application. The mutex provides the
// single-operation-at-a-time total order; reentrant calls from within a
// payment collaborator bypass the mutex (they run on the same call
// stack) and are caught by the executor's guard instead.
type Engine struct {
	mu      sync.Mutex
	chainID string
	state   core.State
	exec    *vm.Executor
	jrnl    *journal.Journal
	emitter *events.Emitter
	privKey crypto.PrivateKey
}

// New creates an Engine for the given chain of collaborators. privKey is
// the service key used to sign journal records.
func New(
	chainID string,
	state core.State,
	exec *vm.Executor,
	jrnl *journal.Journal,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *Engine {
	return &Engine{
		chainID: chainID,
		state:   state,
		exec:    exec,
		jrnl:    jrnl,
		emitter: emitter,
		privKey: privKey,
	}
}

// Apply executes tx, journals it, commits state, and emits the queued
// notifications. On any failure nothing is persisted and nothing is
// emitted.
func (e *Engine) Apply(tx *core.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tx.ChainID != e.chainID {
		return fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, e.chainID)
	}

	// Outer snapshot so a journal failure after a successful execution
	// still leaves the write buffer clean.
	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	queued, err := e.exec.ExecuteTx(tx)
	if err != nil {
		// The executor already reverted its own snapshot; pop ours.
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			log.Printf("[engine] revert after failed tx %s: %v", tx.ID, revertErr)
		}
		return err
	}

	// Root from the write buffer BEFORE flushing so that if the journal
	// append fails the state has not yet been persisted.
	root := e.state.ComputeRoot()

	tip := e.jrnl.Tip()
	prevHash := journal.GenesisHash
	seq := int64(1)
	if tip != nil {
		prevHash = tip.Hash
		seq = tip.Seq + 1
	}
	rec := &journal.Record{
		Seq:       seq,
		PrevHash:  prevHash,
		TxID:      tx.ID,
		TxType:    string(tx.Type),
		StateRoot: root,
		Timestamp: time.Now().Unix(),
	}
	rec.Sign(e.privKey)

	if err := e.jrnl.Append(rec); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			log.Printf("[engine] revert after journal failure: %v", revertErr)
		}
		return fmt.Errorf("journal: %w", err)
	}

	// Flush state only after the record is safely stored.
	if err := e.state.Commit(); err != nil {
		log.Fatalf("[engine] FATAL: record %d stored but state commit failed: %v", rec.Seq, err)
	}

	// Notifications fire only now, after the mutations are durable.
	for _, ev := range queued {
		ev.Seq = rec.Seq
		e.emitter.Emit(ev)
	}
	e.emitter.Emit(events.Event{
		Type: events.EventRecordAppended,
		TxID: tx.ID,
		Seq:  rec.Seq,
		Data: map[string]any{"hash": rec.Hash, "state_root": rec.StateRoot},
	})
	return nil
}

// StateRoot returns the deterministic root of the committed state.
func (e *Engine) StateRoot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ComputeRoot()
}
