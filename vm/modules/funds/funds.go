// Package funds handles native balance movement: the transfer
// transaction used to fund buyer accounts, and the default Payer that
// settles purchases against the same ledger.
package funds

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.To == "" {
		return errors.New("to address required")
	}
	if p.Amount == 0 {
		return errors.New("amount must be > 0")
	}

	if err := move(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}

	ctx.Notify(events.Event{
		Type: events.EventFundsTransfer,
		Data: map[string]any{"from": ctx.Tx.From, "to": p.To, "amount": p.Amount},
	})
	return nil
}

// LedgerPayer is the default vm.Payer: it settles purchases by moving
// native balance from buyer to seller inside the same state buffer, so
// a failed purchase rolls the movement back with everything else.
type LedgerPayer struct{}

func (LedgerPayer) Transfer(st core.State, from, to string, amount uint64) error {
	return move(st, from, to, amount)
}

func move(st core.State, from, to string, amount uint64) error {
	sender, err := st.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("insufficient balance: have %d need %d", sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := st.SetAccount(sender); err != nil {
		return err
	}

	receiver, err := st.GetAccount(to)
	if err != nil {
		return err
	}
	receiver.Balance += amount
	return st.SetAccount(receiver)
}
