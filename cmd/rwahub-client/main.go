package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/term"

	clientconfig "github.com/rwahub-io/rwahub-client/cmd/rwahub-client/config"
	"github.com/rwahub-io/rwahub-client/internal/connproxy"
	"github.com/rwahub-io/rwahub-client/internal/httpbridge"
	"github.com/rwahub-io/rwahub-client/internal/market"
	"github.com/rwahub-io/rwahub-client/internal/purchase"
	"github.com/rwahub-io/rwahub-client/internal/relay"
	"github.com/rwahub-io/rwahub-client/internal/settlement"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
	walletbridge "github.com/rwahub-io/rwahub-client/internal/wallet/bridge"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	log.Infow("rwahub-client",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := clientconfig.Load()
	if err != nil {
		log.Fatalw("failed to parse config", "error", err)
	}
	if err := os.MkdirAll(cfg.ClientSettings.StateDir, 0o700); err != nil {
		log.Fatalw("failed to create state directory", "error", err)
	}

	// Relay first, direct node as fallback.
	direct := relay.NewDirect(rpc.New(cfg.Solana.RPCURL))
	chain := relay.NewChain(log, relay.DefaultReadTTL,
		relay.NewClient(cfg.Relay.BaseURL),
		direct,
	)
	conn := connproxy.New(chain, direct.RPC())

	extension := walletbridge.New(log)
	providers := []wallet.Provider{extension}
	if kp, ok := loadLocalKeypair(log, cfg.Wallet.KeypairPath); ok {
		providers = append(providers, kp)
	}

	store := wallet.NewStore(cfg.ClientSettings.StateDir)
	sessions := wallet.NewSessionManager(log, store, providers...)
	if sess, err := sessions.AutoReconnect(ctx); err != nil {
		log.Warnw("wallet auto-reconnect failed", "error", err)
	} else if sess.Connected {
		log.Infow("wallet session restored", "address", sess.Address)
	}

	settle := settlement.NewClient(cfg.Settlement.BaseURL)

	trades, err := purchase.NewTradeLog(cfg.ClientSettings.StateDir)
	if err != nil {
		log.Fatalw("failed to open trade log", "error", err)
	}
	controller := purchase.NewController(ctx, log, sessions, settle, conn, trades, purchase.Config{})

	catalog, err := market.NewCatalog(cfg.ClientSettings.StateDir, market.DefaultAssets())
	if err != nil {
		log.Fatalw("failed to open asset catalog", "error", err)
	}
	balances := market.NewBalances(conn, cfg.USDCMintKey())

	handler, token, err := httpbridge.NewServer(ctx, log, sessions, controller, catalog, balances, extension, cfg.ClientSettings.UIAllowedOrigins)
	if err != nil {
		log.Fatalw("failed to build HTTP bridge", "error", err)
	}
	log.Infow("UI session token issued", "token", token)

	addr := net.JoinHostPort(cfg.ClientSettings.LocalHost, cfg.ClientSettings.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Infow("HTTP bridge listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}

// loadLocalKeypair unlocks the optional local signing key. Absence is
// normal; only the browser-extension provider is available then.
func loadLocalKeypair(log *zap.SugaredLogger, path string) (*wallet.KeypairProvider, bool) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, false
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warnw("local keypair present but stdin is not a terminal, skipping", "path", path)
		return nil, false
	}

	fmt.Fprint(os.Stderr, "Passphrase for local keypair: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Warnw("passphrase read failed, skipping local keypair", "error", err)
		return nil, false
	}

	priv, err := wallet.LoadKeypair(path, passphrase)
	if err != nil {
		log.Warnw("local keypair unlock failed, skipping", "error", err)
		return nil, false
	}
	log.Infow("local keypair unlocked", "address", priv.PublicKey())
	return wallet.NewKeypairProvider(priv), true
}
