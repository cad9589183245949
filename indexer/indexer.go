// Package indexer maintains secondary lookup tables over committed
// marketplace events so UIs can query trade history without scanning
// full state. It consumes the same notification stream external
// indexers would.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/storage"
)

const (
	prefixHistory = "idx:history:"
	prefixSeller  = "idx:seller:"
)

// TradeEntry is one row of a ticket's recorded history.
type TradeEntry struct {
	Kind   string `json:"kind"` // "minted" | "listed" | "cancelled" | "bought"
	Seq    int64  `json:"seq"`
	Price  uint64 `json:"price,omitempty"`
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`
}

// Indexer subscribes to marketplace events and updates lookup tables.
// It writes directly to the DB: the engine only emits after commit, so
// every observed event describes durable state.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db and subscribes to the relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventTicketMinted, idx.onMinted)
	emitter.Subscribe(events.EventTicketListed, idx.onListed)
	emitter.Subscribe(events.EventListingCancel, idx.onCancelled)
	emitter.Subscribe(events.EventTicketBought, idx.onBought)
	return idx
}

// History returns the recorded trade history of a ticket, oldest first.
func (idx *Indexer) History(ticketID uint64) ([]TradeEntry, error) {
	return idx.getHistory(historyKey(ticketID))
}

// SalesBySeller returns the ids of tickets an address has sold.
func (idx *Indexer) SalesBySeller(seller string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(prefixSeller + seller))
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// ---- event handlers ----

func (idx *Indexer) onMinted(ev events.Event) {
	id, ok := ticketID(ev)
	if !ok {
		return
	}
	price, _ := asUint64(ev.Data["original_price"])
	_ = idx.appendHistory(id, TradeEntry{Kind: "minted", Seq: ev.Seq, Price: price})
}

func (idx *Indexer) onListed(ev events.Event) {
	id, ok := ticketID(ev)
	if !ok {
		return
	}
	price, _ := asUint64(ev.Data["price"])
	_ = idx.appendHistory(id, TradeEntry{Kind: "listed", Seq: ev.Seq, Price: price})
}

func (idx *Indexer) onCancelled(ev events.Event) {
	id, ok := ticketID(ev)
	if !ok {
		return
	}
	_ = idx.appendHistory(id, TradeEntry{Kind: "cancelled", Seq: ev.Seq})
}

func (idx *Indexer) onBought(ev events.Event) {
	id, ok := ticketID(ev)
	if !ok {
		return
	}
	price, _ := asUint64(ev.Data["price"])
	buyer, _ := ev.Data["buyer"].(string)
	seller, _ := ev.Data["seller"].(string)
	_ = idx.appendHistory(id, TradeEntry{
		Kind: "bought", Seq: ev.Seq, Price: price, Buyer: buyer, Seller: seller,
	})
	if seller != "" {
		_ = idx.addSale(seller, id)
	}
}

// ---- storage helpers ----

func historyKey(id uint64) string {
	return prefixHistory + strconv.FormatUint(id, 10)
}

func (idx *Indexer) getHistory(key string) ([]TradeEntry, error) {
	data, err := idx.db.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []TradeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return entries, nil
}

func (idx *Indexer) appendHistory(id uint64, entry TradeEntry) error {
	key := historyKey(id)
	entries, _ := idx.getHistory(key)
	entries = append(entries, entry)
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) addSale(seller string, id uint64) error {
	ids, _ := idx.SalesBySeller(seller)
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixSeller+seller), data)
}

func ticketID(ev events.Event) (uint64, bool) {
	return asUint64(ev.Data["ticket_id"])
}

// asUint64 tolerates both native uint64 values (in-process events) and
// float64 (events round-tripped through JSON).
func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case float64:
		return uint64(n), true
	default:
		return 0, false
	}
}
