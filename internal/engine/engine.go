package engine

import (
	"context"
	"log/slog"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/marshal"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/statement"
	slogctx "github.com/veqryn/slog-context"
)

type Config struct {
	DefaultFetchSize int
	MaxFetchSize     int
}

func (conf Config) WithDefaults() Config {
	if conf.DefaultFetchSize <= 0 {
		conf.DefaultFetchSize = 100
	}

	if conf.MaxFetchSize <= 0 {
		conf.MaxFetchSize = 10000
	}

	return conf
}

// Batch is one chunk of a streamed result. Columns are only set on the first
// batch of a stream.
type Batch struct {
	Columns   []marshal.Column `json:"columns,omitempty"`
	Rows      []marshal.Row    `json:"rows"`
	HasMore   bool             `json:"has_more"`
	TotalRows int64            `json:"total_rows"`
}

type QueryRequest struct {
	SessionID  string              `json:"session_id"`
	SQL        string              `json:"sql"`
	Parameters []marshal.Parameter `json:"parameters,omitempty"`
	FetchSize  int                 `json:"fetch_size,omitempty"`
	MaxRows    int                 `json:"max_rows,omitempty"`
}

type ExecutePreparedRequest struct {
	StatementID string              `json:"statement_id"`
	Parameters  []marshal.Parameter `json:"parameters,omitempty"`
	FetchSize   int                 `json:"fetch_size,omitempty"`
	MaxRows     int                 `json:"max_rows,omitempty"`
}

type UpdateRequest struct {
	SessionID  string              `json:"session_id"`
	SQL        string              `json:"sql"`
	Parameters []marshal.Parameter `json:"parameters,omitempty"`
}

type BatchRequest struct {
	SessionID  string   `json:"session_id"`
	Statements []string `json:"statements"`
}

type MetadataRequest struct {
	SessionID string `json:"session_id"`
	TableName string `json:"table_name,omitempty"`
}

type TableInfo struct {
	Name    string           `json:"name"`
	Schema  string           `json:"schema"`
	Type    string           `json:"type"`
	Columns []marshal.Column `json:"columns,omitempty"`
}

// Engine executes statements for sessions and prepared statements. It owns
// no state of its own beyond the registries it resolves handles through.
type Engine struct {
	conf       Config
	sessions   *session.Registry
	statements *statement.Cache
}

func NewEngine(sessions *session.Registry, statements *statement.Cache, conf Config) *Engine {
	return &Engine{
		conf:       conf.WithDefaults(),
		sessions:   sessions,
		statements: statements,
	}
}

func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

func (e *Engine) Statements() *statement.Cache {
	return e.statements
}

// Stats sums the pool statistics of every open session.
func (e *Engine) Stats() pool.Stats {
	return e.sessions.Stats()
}

func (e *Engine) fetchSize(requested int) int {
	if requested <= 0 {
		return e.conf.DefaultFetchSize
	}

	return min(requested, e.conf.MaxFetchSize)
}

func logSQL(ctx context.Context, logger *slog.Logger, q string, args ...any) {
	if logger.Enabled(ctx, slog.Level(-10)) {
		logger.Log(ctx, -10, q, args...)
	}
}

func withModule(ctx context.Context, op string) (context.Context, *slog.Logger) {
	ctx = slogctx.With(ctx, "module", "engine", "op", op)
	return ctx, slogctx.FromCtx(ctx)
}
