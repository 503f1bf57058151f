// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/wotnet/keychain/business/web/v1"
	"github.com/wotnet/keychain/foundation/events"
	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/state"
	"github.com/wotnet/keychain/foundation/keyring"
	"github.com/wotnet/keychain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	KR    *keyring.Keyring
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the chain parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Members returns the current member set.
func (h Handlers) Members(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	members := h.State.RetrieveMembers()

	out := make([]member, len(members))
	for i, fpr := range members {
		out[i] = h.memberView(fpr)
	}

	return web.Respond(ctx, w, out, http.StatusOK)
}

// Member returns one member row with its current links.
func (h Handlers) Member(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fpr := database.Fingerprint(web.Param(r, "fpr"))

	if _, ok := h.State.RetrieveMemberRow(fpr); !ok {
		return v1.NewRequestError(fmt.Errorf("unknown fingerprint %s", fpr), http.StatusNotFound)
	}

	return web.Respond(ctx, w, h.memberView(fpr), http.StatusOK)
}

// CurrentBlock returns the tip of the chain.
func (h Handlers) CurrentBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, ok := h.State.Current()
	if !ok {
		return web.Respond(ctx, w, nil, http.StatusOK)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// PromotedBlock returns the block promoted at the specified number.
func (h Handlers) PromotedBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	number, err := strconv.ParseUint(web.Param(r, "number"), 10, 64)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	block, err := h.State.Promoted(number)
	if err != nil {
		return web.Respond(ctx, w, nil, http.StatusOK)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// PendingMemberships returns the eligible declarations waiting in the pool.
func (h Handlers) PendingMemberships(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entries := h.State.RetrievePendingMemberships()

	out := make([]pendingMembership, len(entries))
	for i, entry := range entries {
		out[i] = toPendingMembership(entry)
	}

	return web.Respond(ctx, w, out, http.StatusOK)
}

// SubmitMembership adds a new membership declaration to the pending pool.
func (h Handlers) SubmitMembership(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var nm newMembership
	if err := web.Decode(r, &nm); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("add membership", "traceid", v.TraceID, "issuer", nm.Issuer, "membership", nm.Membership)
	entry, err := h.State.SubmitMembership(nm.toMembership(), nm.Pubkey)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status   string `json:"status"`
		Hash     string `json:"hash"`
		Eligible bool   `json:"eligible"`
	}{
		Status:   "membership added to pool",
		Hash:     entry.Membership.Hash(),
		Eligible: entry.Eligible,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitKeyUpdate stages new key material for an existing member.
func (h Handlers) SubmitKeyUpdate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nk newKeyUpdate
	if err := web.Decode(r, &nk); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	if err := h.State.SubmitKeyUpdate(database.Fingerprint(nk.Fingerprint), nk.Subkeys, nk.Certifications); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "key update staged",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// memberView assembles the public view of a member.
func (h Handlers) memberView(fpr database.Fingerprint) member {
	row, _ := h.State.RetrieveMemberRow(fpr)

	distanced := make([]string, len(row.Distanced))
	for i, d := range row.Distanced {
		distanced[i] = string(d)
	}

	links := h.State.RetrieveLinksTo(fpr)
	linksFrom := make([]string, len(links))
	for i, l := range links {
		linksFrom[i] = string(l)
	}

	return member{
		Fingerprint: string(fpr),
		Name:        h.KR.Lookup(fpr),
		Kick:        row.Kick,
		Distanced:   distanced,
		LinksFrom:   linksFrom,
	}
}