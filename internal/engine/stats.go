package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/uber-go/tally/v4"
)

type QueryStats struct {
	Rows    int64
	Batches int
	ConnID  int64
	Pinned  bool
	Elapsed time.Duration
}

func LogQueryStats(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, st *QueryStats) {
	if logger.Enabled(ctx, level) {
		logger.Log(
			ctx,
			level,
			msg,
			"rows", st.Rows,
			"batches", st.Batches,
			"conn_id", st.ConnID,
			"pinned", st.Pinned,
			"elapsed", st.Elapsed,
		)
	}
}

const (
	opQuery    = "query"
	opPrepared = "execute_prepared"
	opUpdate   = "update"
	opBatch    = "batch"
	opMetadata = "metadata"
	opPing     = "ping"
)

type OperationMetrics struct {
	Calls    tally.Counter
	Errors   tally.Counter
	Duration tally.Histogram
}

func NewOperationMetrics(scope tally.Scope) *OperationMetrics {
	return &OperationMetrics{
		Calls:  scope.Counter("queries"),
		Errors: scope.Counter("query_errors"),
		Duration: scope.Histogram(
			"query_duration",
			tally.MustMakeExponentialDurationBuckets(time.Millisecond, 2, 16),
		),
	}
}

type EngineMetrics struct {
	Rows         tally.Counter
	Batches      tally.Counter
	Operations   map[string]*OperationMetrics
	Transactions map[string]tally.Counter
}

func NewEngineMetrics(scope tally.Scope) *EngineMetrics {
	return &EngineMetrics{
		Rows:    scope.Counter("rows_streamed"),
		Batches: scope.Counter("batches_streamed"),
		Operations: lo.SliceToMap(
			[]string{opQuery, opPrepared, opUpdate, opBatch, opMetadata, opPing},
			func(op string) (string, *OperationMetrics) {
				return op, NewOperationMetrics(scope.Tagged(map[string]string{"type": op}))
			},
		),
		Transactions: lo.SliceToMap(
			[]string{"begin", "commit", "rollback"},
			func(op string) (string, tally.Counter) {
				return op, scope.Tagged(map[string]string{"type": op}).Counter("transactions")
			},
		),
	}
}

func (m *EngineMetrics) observe(op string, start time.Time, err error) {
	var om = m.Operations[op]

	om.Calls.Inc(1)
	om.Duration.RecordDuration(time.Since(start))

	if err != nil {
		om.Errors.Inc(1)
	}
}
