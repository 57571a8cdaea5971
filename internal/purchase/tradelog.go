package purchase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const tradeLogFileName = "trades.json"

// TradeLog persists settled trades so the user can review past
// purchases after a restart. Plain JSON; nothing here is secret.
type TradeLog struct {
	mu     sync.Mutex
	path   string
	trades []SettledTrade
}

// NewTradeLog loads the existing log from dir, if any.
func NewTradeLog(dir string) (*TradeLog, error) {
	l := &TradeLog{path: filepath.Join(dir, tradeLogFileName)}

	b, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}
	if err := json.Unmarshal(b, &l.trades); err != nil {
		return nil, fmt.Errorf("unmarshal trade log: %w", err)
	}
	return l, nil
}

// Append records a settled trade. Appending a trade id that is already
// present replaces the old entry, so a re-queried confirmation does not
// produce duplicates.
func (l *TradeLog) Append(t SettledTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	replaced := false
	for i := range l.trades {
		if l.trades[i].TradeID == t.TradeID {
			l.trades[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		l.trades = append(l.trades, t)
	}
	return l.persistLocked()
}

// List returns a copy of all settled trades, oldest first.
func (l *TradeLog) List() []SettledTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SettledTrade{}, l.trades...)
}

func (l *TradeLog) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("mkdir for trade log: %w", err)
	}
	b, err := json.MarshalIndent(l.trades, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trade log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".trades-*")
	if err != nil {
		return fmt.Errorf("create temp trade log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write trade log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close trade log: %w", err)
	}
	return os.Rename(tmpName, l.path)
}
