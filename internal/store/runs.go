// Package store keeps a local audit log of simulation runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound 运行记录不存在
var ErrNotFound = errors.New("run not found")

// DefaultListLimit matches the engine's own /runs page size.
const DefaultListLimit = 50

// RunSummary 运行记录摘要
type RunSummary struct {
	ID           int64     `json:"id"`
	EngineRunID  string    `json:"engine_run_id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	DecisionText string    `json:"decision_text"`
}

// Run is a full audit record: the request as sent and the engine response as
// decoded.
type Run struct {
	RunSummary
	Inputs json.RawMessage `json:"inputs"`
	Output json.RawMessage `json:"output"`
}

// Store 运行记录存储，支持 sqlite 和 postgres
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open connects to the database and creates the schema if needed.
// dbType is "sqlite" (dsn is a file path) or "postgres" (dsn is a URL).
func Open(ctx context.Context, dbType, dsn string) (*Store, error) {
	var driver string
	switch dbType {
	case "", "sqlite":
		dbType, driver = "sqlite", "sqlite"
	case "postgres", "postgresql":
		dbType, driver = "postgres", "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbType, err)
	}
	if dbType == "sqlite" {
		// 单连接避免 database is locked
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbType, err)
	}

	s := &Store{db: db, dialect: dbType, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 建表（幂等）
func (s *Store) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == "postgres" {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS simulation_runs (
			` + idColumn + `,
			engine_run_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			title TEXT NOT NULL,
			decision_text TEXT NOT NULL,
			inputs_json TEXT NOT NULL,
			output_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_simulation_runs_engine_run_id ON simulation_runs(engine_run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Record 保存一次运行，返回本地记录 ID
func (s *Store) Record(ctx context.Context, engineRunID, title, decisionText string, inputs, output any) (int64, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return 0, fmt.Errorf("encode inputs: %w", err)
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return 0, fmt.Errorf("encode output: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO simulation_runs (engine_run_id, created_at, title, decision_text, inputs_json, output_json)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		engineRunID,
		s.now().UTC().Format(time.RFC3339Nano),
		title,
		decisionText,
		string(inputsJSON),
		string(outputJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// List returns the newest runs first. A non-positive limit means DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, engine_run_id, created_at, title, decision_text
		 FROM simulation_runs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var createdAt string
		if err := rows.Scan(&r.ID, &r.EngineRunID, &createdAt, &r.Title, &r.DecisionText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get 按引擎 run_id 查找最新一条记录
func (s *Store) Get(ctx context.Context, engineRunID string) (*Run, error) {
	var r Run
	var createdAt, inputs, output string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, engine_run_id, created_at, title, decision_text, inputs_json, output_json
		 FROM simulation_runs WHERE engine_run_id = ? ORDER BY id DESC LIMIT 1`), engineRunID).
		Scan(&r.ID, &r.EngineRunID, &createdAt, &r.Title, &r.DecisionText, &inputs, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", engineRunID, err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.Inputs = json.RawMessage(inputs)
	r.Output = json.RawMessage(output)
	return &r, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
