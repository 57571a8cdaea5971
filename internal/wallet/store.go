package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const sessionFileName = "session.json"

// legacyFiles are session artifacts written by earlier client versions.
// Every write and clear removes them so stale state cannot shadow the
// namespaced record.
var legacyFiles = []string{
	"walletAddress",
	"eth_address",
	"phantomConnected",
	"wallet_state.json",
}

// Record is the persisted slice of a session: enough to attempt a
// non-interactive reconnect on the next start, nothing more. The public
// key handle is never persisted; it is re-derived from the provider on
// reconnect.
type Record struct {
	Connected    bool   `json:"connected"`
	Address      string `json:"address"`
	ProviderKind Kind   `json:"provider_kind"`
}

// Store persists the session record in a single namespaced file under
// the client state directory.
type Store struct {
	dir string
}

// NewStore uses dir as the state directory, creating it on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string { return filepath.Join(s.dir, sessionFileName) }

// Save writes the record atomically and sweeps legacy keys.
func (s *Store) Save(rec Record) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session record: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session record: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		return fmt.Errorf("replace session record: %w", err)
	}

	s.removeLegacy()
	return nil
}

// Load returns the persisted record, or nil when none exists.
func (s *Store) Load() (*Record, error) {
	b, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Clear removes the record and any legacy keys. Missing files are fine.
func (s *Store) Clear() error {
	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session record: %w", err)
	}
	s.removeLegacy()
	return nil
}

func (s *Store) removeLegacy() {
	for _, name := range legacyFiles {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}
