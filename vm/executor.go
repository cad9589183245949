package vm

import (
	"fmt"
	"math"
	"time"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
)

// Executor applies transactions to the state using the global Handler
// registry. Every transaction runs inside a state snapshot: any handler
// error reverts all of its mutations, including those made by the
// payment collaborator.
//
// The Executor itself is not safe for concurrent use; the engine
// serializes calls to ExecuteTx. The shared Guard catches the remaining
// hazard, a reentrant call made from within an external collaborator.
type Executor struct {
	state core.State
	payer Payer
	guard Guard
	now   func() int64
}

// NewExecutor creates an Executor with the given state and payment
// collaborator.
func NewExecutor(state core.State, payer Payer) *Executor {
	return &Executor{
		state: state,
		payer: payer,
		now:   func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the operation clock. Tests use this to pin
// timestamps.
func (e *Executor) SetClock(now func() int64) {
	e.now = now
}

// ExecuteTx verifies and executes a single transaction with
// snapshot/rollback. On success it returns the events the handler queued,
// for the caller to emit after commit.
func (e *Executor) ExecuteTx(tx *core.Transaction) ([]events.Event, error) {
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State: e.state,
		Tx:    tx,
		Time:  e.now(),
		Payer: e.payer,
		Guard: &e.guard,
	}

	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}

	queued := append(ctx.Queued(), events.Event{
		Type: events.EventOpApplied,
		TxID: tx.ID,
		Data: map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	return queued, nil
}

// applyTx checks the nonce, increments it, then dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
