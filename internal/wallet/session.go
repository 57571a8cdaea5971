package wallet

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
)

// State is the session lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReconnecting State = "reconnecting"
	StateConnected    State = "connected"
)

// Session is the connection snapshot shared with the rest of the client.
// Invariant: Connected implies Address is non-empty. Only the
// SessionManager writes it; everyone else receives copies.
type Session struct {
	Connected    bool
	Address      string
	ProviderKind Kind
	PublicKey    solana.PublicKey
}

// SessionManager owns provider discovery and the session lifecycle.
// Provider events mutate the session here first; observers are notified
// only after the new state is committed.
type SessionManager struct {
	mu        sync.Mutex
	state     State
	session   Session
	active    Provider
	providers []Provider

	store     *Store
	log       *zap.SugaredLogger
	observers []func(Session)
}

// NewSessionManager wires the candidate providers in probe order. The
// first installed provider wins at connect time.
func NewSessionManager(log *zap.SugaredLogger, store *Store, providers ...Provider) *SessionManager {
	m := &SessionManager{
		state:     StateDisconnected,
		providers: providers,
		store:     store,
		log:       log,
	}
	for _, p := range providers {
		p := p
		p.Subscribe(func(ev Event) { m.handleProviderEvent(p, ev) })
	}
	return m
}

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session.
func (m *SessionManager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Provider returns the active provider, or nil when disconnected.
func (m *SessionManager) Provider() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// OnChange registers an observer called after every committed session
// change. Observers run synchronously; keep them cheap.
func (m *SessionManager) OnChange(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Connect runs interactive authorization against the first installed
// provider. Typed failures: WalletNotInstalled when probing finds
// nothing, WalletAlreadyPending when a connect is already running, and
// whatever the provider maps user rejection to.
func (m *SessionManager) Connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateReconnecting {
		m.mu.Unlock()
		return Session{}, clienterr.Wrap(clienterr.ErrWalletAlreadyPending, "wallet.Connect", nil)
	}
	provider := m.probeLocked()
	if provider == nil {
		m.mu.Unlock()
		return Session{}, clienterr.Wrap(clienterr.ErrWalletNotInstalled, "wallet.Connect", nil)
	}
	m.state = StateConnecting
	m.mu.Unlock()

	res, err := provider.Connect(ctx, false)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return Session{}, err
	}

	return m.commitConnected(provider, res.Address), nil
}

// AutoReconnect restores a persisted session non-interactively. On any
// failure the persisted record is cleared and the manager stays
// disconnected; it never assumes a connection it cannot verify.
func (m *SessionManager) AutoReconnect(ctx context.Context) (Session, error) {
	rec, err := m.store.Load()
	if err != nil {
		m.log.Warnw("discarding unreadable session record", "error", err)
		_ = m.store.Clear()
		return Session{}, nil
	}
	if rec == nil || !rec.Connected {
		return Session{}, nil
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return m.Session(), nil
	}
	var provider Provider
	for _, p := range m.providers {
		if p.Kind() == rec.ProviderKind && p.Installed() {
			provider = p
			break
		}
	}
	if provider == nil {
		m.mu.Unlock()
		m.log.Infow("persisted session provider not available, clearing",
			"provider", rec.ProviderKind)
		_ = m.store.Clear()
		return Session{}, nil
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	res, err := provider.Connect(ctx, true)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		_ = m.store.Clear()
		m.log.Infow("auto-reconnect failed, cleared persisted session", "error", err)
		return Session{}, nil
	}

	// The provider-reported address wins over the persisted one: a
	// mismatch means the user switched accounts outside the app.
	if got := res.Address.String(); got != rec.Address {
		m.log.Infow("wallet account changed outside the app",
			"persisted", rec.Address, "current", got)
	}
	return m.commitConnected(provider, res.Address), nil
}

// Disconnect tears the session down. The provider call is best-effort;
// local and persisted state are cleared even when it fails.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	provider := m.active
	m.mu.Unlock()

	if provider != nil {
		if err := provider.Disconnect(ctx); err != nil {
			m.log.Warnw("provider disconnect failed, clearing state anyway", "error", err)
		}
	}
	m.clearSession()
	return nil
}

func (m *SessionManager) probeLocked() Provider {
	for _, p := range m.providers {
		if p.Installed() {
			return p
		}
	}
	return nil
}

func (m *SessionManager) commitConnected(provider Provider, addr solana.PublicKey) Session {
	m.mu.Lock()
	m.state = StateConnected
	m.active = provider
	m.session = Session{
		Connected:    true,
		Address:      addr.String(),
		ProviderKind: provider.Kind(),
		PublicKey:    addr,
	}
	session := m.session
	observers := append([]func(Session){}, m.observers...)
	m.mu.Unlock()

	if err := m.store.Save(Record{
		Connected:    true,
		Address:      session.Address,
		ProviderKind: session.ProviderKind,
	}); err != nil {
		m.log.Warnw("persisting session failed", "error", err)
	}

	m.log.Infow("wallet connected",
		"provider", session.ProviderKind, "address", session.Address)
	for _, fn := range observers {
		fn(session)
	}
	return session
}

func (m *SessionManager) clearSession() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.active = nil
	m.session = Session{}
	session := m.session
	observers := append([]func(Session){}, m.observers...)
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warnw("clearing persisted session failed", "error", err)
	}
	for _, fn := range observers {
		fn(session)
	}
}

func (m *SessionManager) handleProviderEvent(p Provider, ev Event) {
	m.mu.Lock()
	if m.active != p {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch {
	case ev.Type == EventAccountChanged && ev.Address != nil:
		m.mu.Lock()
		m.session.Address = ev.Address.String()
		m.session.PublicKey = *ev.Address
		session := m.session
		observers := append([]func(Session){}, m.observers...)
		m.mu.Unlock()

		if err := m.store.Save(Record{
			Connected:    true,
			Address:      session.Address,
			ProviderKind: session.ProviderKind,
		}); err != nil {
			m.log.Warnw("persisting session failed", "error", err)
		}
		m.log.Infow("wallet account changed", "address", session.Address)
		for _, fn := range observers {
			fn(session)
		}

	default:
		// accountChanged(nil) revokes access, same as a disconnect.
		m.log.Infow("wallet disconnected by provider", "event", ev.Type)
		m.clearSession()
	}
}
