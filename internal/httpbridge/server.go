// Package httpbridge is the loopback control surface the local web UI
// drives: wallet session endpoints, the purchase flow endpoints, an
// event WebSocket for push updates, and the wallet-extension bridge
// socket. Everything is loopback-only; UI endpoints additionally require
// the per-run session token handed out at startup.
package httpbridge

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/market"
	"github.com/rwahub-io/rwahub-client/internal/purchase"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
	walletbridge "github.com/rwahub-io/rwahub-client/internal/wallet/bridge"
)

const uiSessionHeader = "X-RWAHub-Session"

type corsPolicy struct {
	allowedOrigins map[string]struct{}
	allowMethods   string
	maxAge         int
}

// Server glues the subsystems to HTTP. It holds no domain state of its
// own; session state lives in the wallet manager, flow state in the
// purchase controller.
type Server struct {
	log *zap.SugaredLogger
	mux *http.ServeMux

	sessions   *wallet.SessionManager
	controller *purchase.Controller
	catalog    *market.Catalog
	balances   *market.Balances

	uiSessionToken   string
	uiAllowedOrigins map[string]struct{}

	hub *eventHub
}

// NewServer builds the handler. The returned token must be delivered to
// the UI out of band (printed at startup); every UI request carries it.
func NewServer(
	ctx context.Context,
	log *zap.SugaredLogger,
	sessions *wallet.SessionManager,
	controller *purchase.Controller,
	catalog *market.Catalog,
	balances *market.Balances,
	extension *walletbridge.Provider,
	uiAllowedOrigins []string,
) (http.Handler, string, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, "", err
	}

	s := &Server{
		log:              log,
		mux:              http.NewServeMux(),
		sessions:         sessions,
		controller:       controller,
		catalog:          catalog,
		balances:         balances,
		uiSessionToken:   token,
		uiAllowedOrigins: map[string]struct{}{},
	}
	for _, o := range uiAllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.uiAllowedOrigins[o] = struct{}{}
		}
	}

	s.hub = newEventHub(ctx, log)
	sessions.OnChange(func(sess wallet.Session) {
		s.hub.broadcast("session", sessionPayload(sess))
	})
	controller.OnChange(func(snap purchase.Snapshot) {
		s.hub.broadcast("purchase", snap)
	})

	s.mux.HandleFunc("/healthz", s.withLoopbackOnly(s.handleHealth))
	s.mux.HandleFunc("/status", s.withUIGuards(s.handleStatus))

	s.mux.HandleFunc("/wallet/connect", s.withUIGuards(s.handleWalletConnect))
	s.mux.HandleFunc("/wallet/disconnect", s.withUIGuards(s.handleWalletDisconnect))
	s.mux.HandleFunc("/wallet/session", s.withUIGuards(s.handleWalletSession))

	s.mux.HandleFunc("/assets", s.withUIGuards(s.handleAssets))
	s.mux.HandleFunc("/balances", s.withUIGuards(s.handleBalances))

	s.mux.HandleFunc("/purchase/initiate", s.withUIGuards(s.handlePurchaseInitiate))
	s.mux.HandleFunc("/purchase/approve", s.withUIGuards(s.handlePurchaseApprove))
	s.mux.HandleFunc("/purchase/cancel", s.withUIGuards(s.handlePurchaseCancel))
	s.mux.HandleFunc("/purchase/requery", s.withUIGuards(s.handlePurchaseRequery))
	s.mux.HandleFunc("/purchase/status", s.withUIGuards(s.handlePurchaseStatus))
	s.mux.HandleFunc("/trades", s.withUIGuards(s.handleTrades))

	// Event push for the UI. Token rides in the query string because
	// browsers cannot set headers on WebSocket upgrades.
	s.mux.HandleFunc("/events", s.withLoopbackOnly(s.handleEvents))

	// Extension side of the wallet bridge.
	s.mux.HandleFunc("/bridge/wallet", s.withLoopbackOnly(extension.Handler()))

	return s, token, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// GUARDS

func (s *Server) withCORS(policy corsPolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if originRaw := r.Header.Get("Origin"); originRaw != "" {
			origin := normalizeOrigin(originRaw)
			if origin == "" {
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}
			if policy.allowedOrigins != nil {
				if _, ok := policy.allowedOrigins[origin]; !ok {
					http.Error(w, "forbidden origin", http.StatusForbidden)
					return
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if policy.allowMethods != "" {
				w.Header().Set("Access-Control-Allow-Methods", policy.allowMethods)
			}
			if reqHdrs := r.Header.Get("Access-Control-Request-Headers"); reqHdrs != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHdrs)
			}
			if policy.maxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", itoa(policy.maxAge))
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) withLoopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) withUIGuards(next http.HandlerFunc) http.HandlerFunc {
	cors := corsPolicy{
		allowedOrigins: s.uiAllowedOrigins,
		allowMethods:   "GET,POST,OPTIONS",
		maxAge:         600,
	}
	return s.withCORS(cors, func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Header.Get(uiSessionHeader) != s.uiSessionToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}
