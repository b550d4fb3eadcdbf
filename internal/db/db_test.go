package db

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sqlite3 "github.com/mattn/go-sqlite3"

	"thermopoll/internal/config"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]slog.Value)
	m["msg"] = slog.StringValue(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(_ string) slog.Handler { return h }

func (h *captureHandler) recordsFor(t *testing.T, msg string) []map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.attrs {
		if m["msg"].String() == msg {
			out = append(out, m)
		}
	}
	return out
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs = nil
}

func TestLoggingConnector_ExecAndQueryLogged(t *testing.T) {
	handler := &captureHandler{}
	db := sql.OpenDB(NewLoggingConnector(&sqlite3.SQLiteDriver{}, ":memory:", slog.New(handler)))
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	recs := handler.recordsFor(t, "sql")
	if len(recs) == 0 {
		t.Fatal("expected a sql log record for Exec")
	}
	got := recs[len(recs)-1]
	if got["op"].String() != "exec" {
		t.Errorf("op = %q, want exec", got["op"].String())
	}
	if got["sql"].String() != `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)` {
		t.Errorf("sql = %q", got["sql"].String())
	}
	if _, ok := got["duration"]; !ok {
		t.Error("duration attribute missing")
	}

	handler.reset()
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (?, ?)`, 1, "kitchen"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM t WHERE id = ?`, 1).Scan(&name); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if name != "kitchen" {
		t.Errorf("name = %q", name)
	}

	recs = handler.recordsFor(t, "sql")
	if len(recs) < 2 {
		t.Fatalf("got %d sql records, want at least 2", len(recs))
	}
	q := recs[len(recs)-1]
	if q["op"].String() != "query" {
		t.Errorf("op = %q, want query", q["op"].String())
	}
	if args := q["args"].String(); !strings.Contains(args, "1") {
		t.Errorf("args = %q, want the bound id", args)
	}
	ins := recs[0]
	if args := ins["args"].String(); !strings.Contains(args, "kitchen") {
		t.Errorf("insert args = %q", args)
	}
}

func TestLoggingConnector_ErrorLogged(t *testing.T) {
	handler := &captureHandler{}
	db := sql.OpenDB(NewLoggingConnector(&sqlite3.SQLiteDriver{}, ":memory:", slog.New(handler)))
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO t (id) VALUES (?)`, 1); err != nil {
		t.Fatal(err)
	}
	handler.reset()
	if _, err := db.Exec(`INSERT INTO t (id) VALUES (?)`, 1); err == nil {
		t.Fatal("duplicate insert succeeded")
	}
	recs := handler.recordsFor(t, "sql")
	if len(recs) == 0 {
		t.Fatal("no sql record for failed exec")
	}
	if _, ok := recs[len(recs)-1]["error"]; !ok {
		t.Error("error attribute missing on failed exec")
	}
}

func TestLoggingConnector_NilLoggerUsesDefault(t *testing.T) {
	c := NewLoggingConnector(&sqlite3.SQLiteDriver{}, ":memory:", nil)
	lc, ok := c.(*loggingConnector)
	if !ok || lc.logger == nil {
		t.Fatal("logger not defaulted")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		in     string
		want   string
	}{
		{driver: "sqlite3", in: "SELECT ? , ?", want: "SELECT ? , ?"},
		{driver: "mysql", in: "INSERT INTO t VALUES (?, ?)", want: "INSERT INTO t VALUES (?, ?)"},
		{driver: "postgres", in: "INSERT INTO t VALUES (?, ?, ?)", want: "INSERT INTO t VALUES ($1, $2, $3)"},
		{driver: "postgres", in: "SELECT '?' , ?", want: "SELECT '?' , $1"},
		{driver: "postgres", in: "SELECT 1", want: "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.in, func(t *testing.T) {
			if got := Rebind(tt.driver, tt.in); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.Config{Driver: "postgres", DSN: "postgres://x"},
			want: "postgres://x",
		},
		{
			name:    "postgres without dsn",
			cfg:     config.Config{Driver: "postgres"},
			wantErr: true,
		},
		{
			name: "sqlite path",
			cfg:  config.Config{Driver: "sqlite3", Path: filepath.Join(dir, "sub", "a.db")},
			want: "file:" + filepath.Join(dir, "sub", "a.db") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name: "sqlite file uri with params",
			cfg:  config.Config{Driver: "sqlite3", Path: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc"},
			want: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Config{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "open.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	handler := &captureHandler{}
	db, err := Open(context.Background(), cfg, slog.New(handler))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = Close(db) }()

	if _, err := db.Exec(`CREATE TABLE x (id INTEGER)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(handler.recordsFor(t, "sql")) == 0 {
		t.Error("debug-enabled logger did not receive sql records")
	}
}

func TestDriverFor(t *testing.T) {
	for _, name := range []string{"sqlite3", "postgres", "mysql"} {
		if _, err := driverFor(name); err != nil {
			t.Errorf("driverFor(%q) error = %v", name, err)
		}
	}
	if _, err := driverFor("oracle"); err == nil {
		t.Error("driverFor(oracle) error = nil")
	}
}
