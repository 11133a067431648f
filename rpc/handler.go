package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	stg *core.Storage
	idx *indexer.Indexer // may be nil; history methods then error
}

// NewHandler creates an RPC Handler over a storage node.
func NewHandler(stg *core.Storage, idx *indexer.Indexer) *Handler {
	return &Handler{stg: stg, idx: idx}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "bm_getStatus":
		return okResponse(req.ID, map[string]any{
			"node":         h.stg.ID(),
			"mode":         h.stg.Mode(),
			"available":    h.stg.Available(),
			"blocks":       h.stg.BlockCount(),
			"queue":        h.stg.QueueLen(),
			"participants": h.stg.GlobalParticipants(),
		})

	case "bm_getHeads":
		return okResponse(req.ID, h.stg.Heads())

	case "bm_getBlock":
		return h.getBlock(req)

	case "bm_getQueueLen":
		return okResponse(req.ID, h.stg.QueueLen())

	case "bm_getHistory":
		return h.getHistory(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.Hash == "" {
		return errResponse(req.ID, CodeInvalidParams, "hash is required")
	}
	block, err := h.stg.LoadBlock(params.Hash)
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeInternalError, "no block "+params.Hash)
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getHistory(req Request) Response {
	var params struct {
		Participant string `json:"participant"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.Participant == "" {
		return errResponse(req.ID, CodeInvalidParams, "participant is required")
	}
	if h.idx == nil {
		return errResponse(req.ID, CodeInternalError, "no indexer configured")
	}
	hashes, err := h.idx.BlocksByParticipant(params.Participant)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, hashes)
}
