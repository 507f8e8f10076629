// Package history keeps completed analyses in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cexll/ci-agent/internal/intel"
)

// ErrNotFound is returned for unknown record ids
var ErrNotFound = errors.New("history record not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL DEFAULT '',
	competitor     TEXT NOT NULL,
	competitor_key TEXT NOT NULL,
	website        TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	status         TEXT NOT NULL,
	threat_level   INTEGER,
	created_at     INTEGER NOT NULL,
	result         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_competitor ON analyses(competitor_key, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
`

// Record is one stored analysis
type Record struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id,omitempty"`
	Competitor  string          `json:"competitor"`
	Website     string          `json:"website,omitempty"`
	Mode        string          `json:"analysis_mode"`
	Status      string          `json:"status"`
	ThreatLevel *int            `json:"threat_level,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Store is the SQLite history table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one connection keeps ":memory:" a single database and serialises writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a finished analysis and returns the new record
func (s *Store) Save(ctx context.Context, sessionID string, r *intel.Result) (*Record, error) {
	if r == nil {
		return nil, errors.New("history save: nil result")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	rec := &Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Competitor: r.Competitor,
		Website:    r.Website,
		Mode:       string(r.AnalysisMode),
		Status:     r.Status,
		CreatedAt:  s.now().UTC(),
		Result:     raw,
	}
	if r.Metrics != nil {
		rec.ThreatLevel = r.Metrics.CompetitiveThreatLevel
	}

	var threat sql.NullInt64
	if rec.ThreatLevel != nil {
		threat = sql.NullInt64{Int64: int64(*rec.ThreatLevel), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, session_id, competitor, competitor_key, website, mode, status, threat_level, created_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Competitor, key(rec.Competitor), rec.Website,
		rec.Mode, rec.Status, threat, rec.CreatedAt.UnixNano(), string(raw))
	if err != nil {
		return nil, fmt.Errorf("insert history record: %w", err)
	}
	return rec, nil
}

// Get returns one record including its result
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, competitor, website, mode, status, threat_level, created_at, result
		FROM analyses WHERE id = ?`, id)

	rec, err := scan(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query history record: %w", err)
	}
	return rec, nil
}

// List returns the newest records without their result payload. A non-empty
// competitor filters case-insensitively.
func (s *Store) List(ctx context.Context, limit int, competitor string) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	query := `SELECT id, session_id, competitor, website, mode, status, threat_level, created_at
		FROM analyses`
	args := []any{}
	if competitor = strings.TrimSpace(competitor); competitor != "" {
		query += ` WHERE competitor_key = ?`
		args = append(args, key(competitor))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scan(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Delete removes one record
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner, withResult bool) (*Record, error) {
	var (
		rec     Record
		threat  sql.NullInt64
		created int64
		result  string
	)
	dest := []any{&rec.ID, &rec.SessionID, &rec.Competitor, &rec.Website, &rec.Mode,
		&rec.Status, &threat, &created}
	if withResult {
		dest = append(dest, &result)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	if threat.Valid {
		v := int(threat.Int64)
		rec.ThreatLevel = &v
	}
	if withResult {
		rec.Result = json.RawMessage(result)
	}
	return &rec, nil
}

func key(competitor string) string {
	return strings.ToLower(strings.TrimSpace(competitor))
}
