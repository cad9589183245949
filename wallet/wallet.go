package wallet

import (
	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. chainID must match the target
// marketplace. nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed funds transfer transaction.
func (w *Wallet) Transfer(chainID, to string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// MintAndList creates a signed mint-and-list transaction (registry-owner only).
func (w *Wallet) MintAndList(chainID, to string, prices, listingPrices []uint64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMintAndList, nonce, core.MintAndListPayload{
		To:            to,
		Prices:        prices,
		ListingPrices: listingPrices,
	})
}

// ListTicket creates a signed listing transaction.
func (w *Wallet) ListTicket(chainID string, ticketID, price, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxListTicket, nonce, core.ListTicketPayload{
		TicketID: ticketID,
		Price:    price,
	})
}

// CancelListing creates a signed cancellation transaction.
func (w *Wallet) CancelListing(chainID string, ticketID, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCancelListing, nonce, core.CancelListingPayload{
		TicketID: ticketID,
	})
}

// BuyTicket creates a signed purchase transaction. payment must equal the
// listing price exactly.
func (w *Wallet) BuyTicket(chainID string, ticketID, payment, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBuyTicket, nonce, core.BuyTicketPayload{
		TicketID: ticketID,
		Payment:  payment,
	})
}
