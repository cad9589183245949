package core

// Account holds a participant's native balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Ticket is the registry record of one numbered ticket: identity and
// ownership only. Economic history lives in TicketState.
type Ticket struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"` // pubkey hex
	MintedAt int64  `json:"minted_at"`
}

// TicketState is the per-ticket economic record. Created at mint, never
// deleted. OriginalPrice is immutable after mint. LastSalePrice of 0
// means "never resold": the cap basis falls back to OriginalPrice.
// LastActivityTime is set at mint and overwritten by each completed
// sale; it deliberately carries a single "last activity" meaning.
type TicketState struct {
	ID               uint64 `json:"id"`
	OriginalPrice    uint64 `json:"original_price"`
	ResaleCount      uint32 `json:"resale_count"`
	LastSalePrice    uint64 `json:"last_sale_price"`
	LastActivityTime int64  `json:"last_activity_time"`
}

// Listing is an active offer to sell one ticket. At most one per ticket.
type Listing struct {
	TicketID  uint64 `json:"ticket_id"`
	Seller    string `json:"seller"` // pubkey hex
	Price     uint64 `json:"price"`
	CreatedAt int64  `json:"created_at"`
}

// State is the full marketplace state interface. Implementations must be
// snapshot-able so the executor can roll back failed operations.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Registry records
	GetTicket(id uint64) (*Ticket, error)
	SetTicket(t *Ticket) error
	// Ownership enumeration, maintained inside the write buffer so it
	// participates in snapshot/rollback.
	TicketsOfOwner(address string) ([]uint64, error)
	SetTicketsOfOwner(address string, ids []uint64) error

	// Economic records
	GetTicketState(id uint64) (*TicketState, error)
	SetTicketState(st *TicketState) error

	// Listings. SetListing indexes the id on first insert only;
	// DeleteListing removes the id from the index by swap-with-last.
	GetListing(id uint64) (*Listing, error)
	SetListing(l *Listing) error
	DeleteListing(id uint64) error
	ListedTickets() ([]uint64, error)

	// Rollback-basis slot: the LastSalePrice that was in effect
	// immediately before the current listing was created.
	GetPrevBasis(id uint64) (uint64, error)
	SetPrevBasis(id uint64, price uint64) error
	DeletePrevBasis(id uint64) error

	// Marketplace records written by the engine.
	RegistryOwner() (string, error)
	SetRegistryOwner(address string) error
	NextTicketID() (uint64, error)
	SetNextTicketID(id uint64) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current
	// write buffer without flushing. Call this before appending a
	// journal record.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
