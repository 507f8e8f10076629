package credits

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileLedger is a single local credit counter persisted as JSON. It plays
// the part of the browser's local storage for command line clients.
type FileLedger struct {
	path  string
	limit int
	now   func() time.Time
}

type ledgerFile struct {
	Day  string `json:"day"`
	Used int    `json:"used"`
}

// NewFileLedger returns a ledger stored at path with a daily limit.
func NewFileLedger(path string, limit int) *FileLedger {
	return &FileLedger{path: path, limit: limit, now: time.Now}
}

// DefaultLedgerPath returns the ledger location under the user config dir.
func DefaultLedgerPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cictl", "credits.json"), nil
}

func (l *FileLedger) today() string {
	return l.now().Format("2006-01-02")
}

func (l *FileLedger) load() (ledgerFile, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ledgerFile{Day: l.today()}, nil
	}
	if err != nil {
		return ledgerFile{}, fmt.Errorf("read ledger: %w", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return ledgerFile{}, fmt.Errorf("parse ledger: %w", err)
	}
	if lf.Day != l.today() {
		lf = ledgerFile{Day: l.today()}
	}
	return lf, nil
}

func (l *FileLedger) save(lf ledgerFile) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	data, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o600)
}

// Spend records cost credits for today, refusing with *LimitError when the
// allowance would be exceeded.
func (l *FileLedger) Spend(cost int) error {
	lf, err := l.load()
	if err != nil {
		return err
	}
	if lf.Used+cost > l.limit {
		return &LimitError{Identity: "local", Limit: l.limit, Used: lf.Used, Requested: cost, ResetAt: nextMidnight(l.now())}
	}
	lf.Used += cost
	return l.save(lf)
}

// Stats reports today's local usage.
func (l *FileLedger) Stats() (Stats, error) {
	lf, err := l.load()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Identity:      "local",
		Used:          lf.Used,
		Remaining:     max(l.limit-lf.Used, 0),
		DailyLimit:    l.limit,
		NextResetTime: nextMidnight(l.now()),
	}, nil
}
