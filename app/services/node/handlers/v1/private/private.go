// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	v1 "github.com/wotnet/keychain/business/web/v1"
	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/peer"
	"github.com/wotnet/keychain/foundation/keychain/state"
	"github.com/wotnet/keychain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var latestHash string
	var latestNumber uint64
	if block, ok := h.State.Current(); ok {
		latestHash = block.Hash
		latestNumber = block.Number
	}

	status := peer.PeerStatus{
		LatestBlockHash:   latestHash,
		LatestBlockNumber: latestNumber,
		KnownPeers:        h.State.RetrieveKnownPeers(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// BlocksByNumber returns the set of blocks for the specified range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	toStr := web.Param(r, "to")

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	var to uint64
	if toStr == "latest" {
		if tip, ok := h.State.Current(); ok {
			to = tip.Number
		}
	} else {
		if to, err = strconv.ParseUint(toStr, 10, 64); err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
	}

	if from > to {
		return v1.NewRequestError(errors.New("from must not be greater than to"), http.StatusBadRequest)
	}

	var blocks []database.Keyblock
	for num := from; num <= to; num++ {
		block, err := h.State.Promoted(num)
		if err != nil {
			break
		}
		blocks = append(blocks, block)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// ProposeBlock takes a block sealed by a peer and submits it for validation
// and application. The competing minting operation, if any, is cancelled.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var block database.Keyblock
	if err := web.Decode(r, &block); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("propose block", "traceid", v.TraceID, "number", block.Number, "hash", block.Hash)
	applied, err := h.State.SubmitKeyBlock(block)
	if err != nil {
		if errors.Is(err, state.ErrAlreadySeen) {
			return v1.NewRequestError(err, http.StatusConflict)
		}
		return v1.NewRequestError(err, http.StatusNotAcceptable)
	}

	return web.Respond(ctx, w, applied, http.StatusOK)
}

// MintNextBlock assembles, seals and applies one block synchronously.
func (h Handlers) MintNextBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.StartGeneration()
	if err != nil {
		if errors.Is(err, state.ErrNoChanges) {
			return v1.NewRequestError(err, http.StatusNoContent)
		}
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}
