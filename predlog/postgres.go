package predlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	kws "github.com/cortexswarm/kws-go"
)

// Schema is the SQL DDL for the kws_predictions table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS kws_predictions (
    id          BIGSERIAL PRIMARY KEY,
    keyword     TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kws_predictions_recorded_at ON kws_predictions(recorded_at);
`

const (
	insertPrediction  = `INSERT INTO kws_predictions (keyword, confidence, recorded_at) VALUES ($1, $2, $3)`
	recentPredictions = `SELECT keyword, confidence, recorded_at FROM kws_predictions ORDER BY recorded_at DESC, id DESC LIMIT $1`
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// ErrQueueFull is returned by Append when the writer has fallen behind.
var ErrQueueFull = errors.New("predlog: postgres queue full")

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresOption configures a PostgresSink.
type PostgresOption func(*PostgresSink)

// WithQueueSize sets how many records may wait for the writer.
func WithQueueSize(n int) PostgresOption {
	return func(s *PostgresSink) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each INSERT.
func WithWriteTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresSink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l logrus.FieldLogger) PostgresOption {
	return func(s *PostgresSink) {
		if l != nil {
			s.log = l
		}
	}
}

// PostgresSink is a [kws.PredictionSink] backed by PostgreSQL. Append only
// enqueues, so the capture loop never waits on the network; a single writer
// goroutine performs the inserts in order.
type PostgresSink struct {
	db           DB
	log          logrus.FieldLogger
	queueSize    int
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan kws.PredictionRecord
	done   chan struct{}

	written atomic.Int64
	failed  atomic.Int64
}

var _ kws.PredictionSink = (*PostgresSink)(nil)

// NewPostgresSink starts the writer. The caller is responsible for calling
// [PostgresSink.Migrate] before the first prediction arrives.
func NewPostgresSink(db DB, opts ...PostgresOption) *PostgresSink {
	s := &PostgresSink{
		db:           db,
		log:          logrus.StandardLogger(),
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan kws.PredictionRecord, s.queueSize)
	s.done = make(chan struct{})
	go s.writer()
	return s
}

// Migrate executes the [Schema] DDL.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("predlog: migrate: %w", err)
	}
	return nil
}

// Append enqueues rec without blocking.
func (s *PostgresSink) Append(_ context.Context, rec kws.PredictionRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		s.failed.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting records and waits until every queued record has
// been written or ctx expires.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("predlog: flush: %w", ctx.Err())
	}
}

// Stats returns how many records were written and how many were lost to a
// full queue or a failed insert.
func (s *PostgresSink) Stats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}

func (s *PostgresSink) writer() {
	defer close(s.done)
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		_, err := s.db.Exec(ctx, insertPrediction, rec.Keyword, rec.Confidence, rec.Timestamp)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.log.WithError(err).WithField("keyword", rec.Keyword).Warn("prediction insert failed")
			continue
		}
		s.written.Add(1)
	}
}

// Recent returns up to limit records, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]kws.PredictionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, recentPredictions, limit)
	if err != nil {
		return nil, fmt.Errorf("predlog: recent: %w", err)
	}
	defer rows.Close()

	var out []kws.PredictionRecord
	for rows.Next() {
		var rec kws.PredictionRecord
		if err := rows.Scan(&rec.Keyword, &rec.Confidence, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("predlog: recent scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("predlog: recent: %w", err)
	}
	return out, nil
}
