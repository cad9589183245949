package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/engine"
	"github.com/Tell-dev/TixTrust/indexer"
	"github.com/Tell-dev/TixTrust/journal"
	"github.com/Tell-dev/TixTrust/registry"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	eng     *engine.Engine
	state   core.State
	reg     *registry.Registry
	jrnl    *journal.Journal
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler.
func NewHandler(eng *engine.Engine, state core.State, reg *registry.Registry, jrnl *journal.Journal, idx *indexer.Indexer) *Handler {
	return &Handler{eng: eng, state: state, reg: reg, jrnl: jrnl, indexer: idx}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "sendTx":
		return h.sendTx(req)

	case "getTicketInfo":
		return h.getTicketInfo(req)

	case "getListing":
		return h.getListing(req)

	case "getAllListedTickets":
		ids, err := h.state.ListedTickets()
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		return okResponse(req.ID, ids)

	case "getTicketsByOwner":
		return h.getTicketsByOwner(req)

	case "getBalance":
		return h.getBalance(req)

	case "getTradeHistory":
		return h.getTradeHistory(req)

	case "getRecord":
		return h.getRecord(req)

	case "getJournalHeight":
		return okResponse(req.ID, h.jrnl.Height())

	case "getStateRoot":
		return okResponse(req.ID, h.eng.StateRoot())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.eng.Apply(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getTicketInfo(req Request) Response {
	id, resp := ticketIDParam(req)
	if resp != nil {
		return *resp
	}
	ticket, err := h.state.GetTicket(id)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	st, err := h.state.GetTicketState(id)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	listed := true
	if _, err := h.state.GetListing(id); errors.Is(err, core.ErrNotFound) {
		listed = false
	} else if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"ticket": ticket,
		"state":  st,
		"listed": listed,
	})
}

func (h *Handler) getListing(req Request) Response {
	id, resp := ticketIDParam(req)
	if resp != nil {
		return *resp
	}
	listing, err := h.state.GetListing(id)
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeInternalError, core.ErrNotListed.Error())
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, listing)
}

func (h *Handler) getTicketsByOwner(req Request) Response {
	owner, resp := ownerParam(req)
	if resp != nil {
		return *resp
	}
	ids, err := h.reg.TicketsOfOwner(owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getTradeHistory(req Request) Response {
	id, resp := ticketIDParam(req)
	if resp != nil {
		return *resp
	}
	entries, err := h.indexer.History(id)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, entries)
}

func (h *Handler) getRecord(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
		Seq  *int64 `json:"seq"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var rec *journal.Record
	var err error
	if params.Hash != "" {
		rec, err = h.jrnl.GetRecord(params.Hash)
	} else if params.Seq != nil {
		rec, err = h.jrnl.GetRecordBySeq(*params.Seq)
	} else {
		rec = h.jrnl.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if rec == nil {
		return errResponse(req.ID, CodeInternalError, "no record found")
	}
	return okResponse(req.ID, rec)
}

// ---- param helpers ----

func ticketIDParam(req Request) (uint64, *Response) {
	var params struct {
		TicketID *uint64 `json:"ticket_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return 0, &resp
	}
	if params.TicketID == nil {
		resp := errResponse(req.ID, CodeInvalidParams, "ticket_id is required")
		return 0, &resp
	}
	return *params.TicketID, nil
}

func ownerParam(req Request) (string, *Response) {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return "", &resp
	}
	if params.Owner == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "owner is required")
		return "", &resp
	}
	return params.Owner, nil
}
