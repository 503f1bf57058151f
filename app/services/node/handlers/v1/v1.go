// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/wotnet/keychain/app/services/node/handlers/v1/private"
	"github.com/wotnet/keychain/app/services/node/handlers/v1/public"
	"github.com/wotnet/keychain/foundation/events"
	"github.com/wotnet/keychain/foundation/keychain/state"
	"github.com/wotnet/keychain/foundation/keyring"
	"github.com/wotnet/keychain/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	KR    *keyring.Keyring
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		KR:    cfg.KR,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/members/list", pbl.Members)
	app.Handle(http.MethodGet, version, "/members/list/:fpr", pbl.Member)
	app.Handle(http.MethodGet, version, "/block/current", pbl.CurrentBlock)
	app.Handle(http.MethodGet, version, "/block/promoted/:number", pbl.PromotedBlock)
	app.Handle(http.MethodGet, version, "/membership/pending", pbl.PendingMemberships)
	app.Handle(http.MethodPost, version, "/membership/add", pbl.SubmitMembership)
	app.Handle(http.MethodPost, version, "/key/update", pbl.SubmitKeyUpdate)
	app.Handle(http.MethodGet, version, "/events", pbl.Events)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodPost, version, "/node/block/propose", prv.ProposeBlock)
	app.Handle(http.MethodPost, version, "/node/block/next", prv.MintNextBlock)
}
