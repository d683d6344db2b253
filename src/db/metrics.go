package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumdb_db_queries_total",
			Help: "Total number of SQL statements executed",
		},
		[]string{"name", "status"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forumdb_db_query_duration_seconds",
			Help:    "SQL statement duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"name"},
	)

	statementFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forumdb_db_statement_failures_total",
			Help: "Statements that failed without an applicable ignore flag",
		},
	)
)

type queryStartContextKey struct{}

// Records counts and durations per named query. Unnamed queries share one
// label so ad-hoc SQL cannot blow up cardinality.
type metricsTracer struct{}

var _ pgx.QueryTracer = metricsTracer{}

func (mt metricsTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartContextKey{}, queryStart{
		name:  queryNameOrUnknown(data.SQL),
		start: time.Now(),
	})
}

func (mt metricsTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartContextKey{}).(queryStart)
	if !ok {
		return
	}

	status := "ok"
	if data.Err != nil {
		status = "error"
	}
	queriesTotal.WithLabelValues(qs.name, status).Inc()
	queryDuration.WithLabelValues(qs.name).Observe(time.Since(qs.start).Seconds())
}

type queryStart struct {
	name  string
	start time.Time
}
