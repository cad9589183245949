package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tell-dev/TixTrust/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer      TxType = "transfer"
	TxMintAndList   TxType = "mint_and_list"
	TxListTicket    TxType = "list_ticket"
	TxCancelListing TxType = "cancel_listing"
	TxBuyTicket     TxType = "buy_ticket"
)

// Transaction is the atomic unit of work in the marketplace.
// From holds the caller's full hex-encoded ed25519 public key (64 chars);
// all capability checks compare against it. Signature covers all fields
// except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves native funds between accounts.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// MintAndListPayload mints a batch of tickets to one recipient and lists
// each at its initial ask price. Registry-owner only. Prices and
// ListingPrices are positional: element i describes ticket i of the batch.
type MintAndListPayload struct {
	To            string   `json:"to"` // recipient pubkey hex
	Prices        []uint64 `json:"prices"`
	ListingPrices []uint64 `json:"listing_prices"`
}

// ListTicketPayload lists a ticket for resale at the given ask price.
type ListTicketPayload struct {
	TicketID uint64 `json:"ticket_id"`
	Price    uint64 `json:"price"`
}

// CancelListingPayload withdraws an active listing.
type CancelListingPayload struct {
	TicketID uint64 `json:"ticket_id"`
}

// BuyTicketPayload purchases a listed ticket. Payment must equal the
// listing price exactly.
type BuyTicketPayload struct {
	TicketID uint64 `json:"ticket_id"`
	Payment  uint64 `json:"payment"`
}
