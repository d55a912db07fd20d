// Package archive keeps every stored observation in a DuckDB file so that
// history older than the in-memory ring can still be queried.
package archive

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/models"
)

// DefaultBatchSize is the number of observations appended per flush.
const DefaultBatchSize = 1000

// Options configures an Archive.
type Options struct {
	Path        string
	BatchSize   int
	Threads     int
	MemoryLimit string
	Logger      *zap.Logger
}

// Archive batches observations in memory and appends them to DuckDB.
type Archive struct {
	db        *sql.DB
	path      string
	batchSize int
	log       *zap.Logger

	mu        sync.Mutex
	batch     []*models.ObservationRecord
	lastError error

	// serializes appender use
	flushMu sync.Mutex
	stored  int64

	flushCh  chan struct{}
	querySem chan struct{}
}

// Open creates or opens the archive database.
func Open(opts Options) (*Archive, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "512MB"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("archive")

	connector, err := duckdb.NewConnector(opts.Path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS observations (
			sequence       BIGINT NOT NULL,
			buffer_key     INTEGER NOT NULL,
			device_uuid    VARCHAR NOT NULL,
			data_item_id   VARCHAR NOT NULL,
			category       VARCHAR NOT NULL,
			representation VARCHAR,
			timestamp      BIGINT NOT NULL,
			values_json    VARCHAR NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	var stored int64
	if err := db.QueryRow("SELECT COUNT(*) FROM observations").Scan(&stored); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count observations: %w", err)
	}

	log.Info("archive opened", zap.String("path", opts.Path), zap.Int64("observations", stored))
	return &Archive{
		db:        db,
		path:      opts.Path,
		batchSize: opts.BatchSize,
		log:       log,
		batch:     make([]*models.ObservationRecord, 0, opts.BatchSize),
		stored:    stored,
		flushCh:   make(chan struct{}, 1),
		querySem:  make(chan struct{}, 3),
	}, nil
}

// Add queues an observation. It never blocks on the database; a full
// batch wakes the Run loop.
func (ar *Archive) Add(rec *models.ObservationRecord) {
	ar.mu.Lock()
	ar.batch = append(ar.batch, rec)
	full := len(ar.batch) >= ar.batchSize
	ar.mu.Unlock()

	if full {
		select {
		case ar.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run flushes full batches and, every interval, whatever is pending. It
// flushes once more when ctx is done.
func (ar *Archive) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ar.Flush()
		case <-ar.flushCh:
		case <-ticker.C:
		}
		if err := ar.Flush(); err != nil {
			ar.log.Warn("archive flush failed", zap.Error(err))
		}
	}
}

// Flush appends every pending observation using the DuckDB Appender.
func (ar *Archive) Flush() error {
	ar.flushMu.Lock()
	defer ar.flushMu.Unlock()

	ar.mu.Lock()
	pending := ar.batch
	ar.batch = make([]*models.ObservationRecord, 0, ar.batchSize)
	ar.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := ar.appendRows(pending)
	if err != nil {
		ar.mu.Lock()
		ar.lastError = err
		// keep the rows for the next attempt
		ar.batch = append(pending, ar.batch...)
		ar.mu.Unlock()
		return err
	}
	ar.stored += int64(len(pending))
	return nil
}

func (ar *Archive) appendRows(recs []*models.ObservationRecord) error {
	conn, err := ar.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "observations")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, rec := range recs {
			values, err := json.Marshal(rec.Values)
			if err != nil {
				return fmt.Errorf("failed to encode values of row %d: %w", i, err)
			}
			err = appender.AppendRow(
				rec.Sequence,
				int32(rec.BufferKey),
				rec.DeviceUUID,
				rec.DataItemID,
				string(rec.Category),
				string(rec.Representation),
				rec.Timestamp.UnixMicro(),
				string(values),
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// Query selects archived observations.
type Query struct {
	DeviceUUID  string
	DataItemIDs []string
	From        time.Time // zero = unbounded
	To          time.Time // zero = unbounded
	Limit       int       // <= 0 = 10000
}

// QueryRange returns archived observations ordered by sequence.
func (ar *Archive) QueryRange(ctx context.Context, q Query) ([]models.ObservationRecord, error) {
	select {
	case ar.querySem <- struct{}{}:
		defer func() { <-ar.querySem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	query := `
		SELECT sequence, buffer_key, device_uuid, data_item_id, category, representation, timestamp, values_json
		FROM observations WHERE 1=1
	`
	var args []interface{}
	if q.DeviceUUID != "" {
		query += " AND device_uuid = ?"
		args = append(args, q.DeviceUUID)
	}
	if len(q.DataItemIDs) > 0 {
		placeholders := make([]string, len(q.DataItemIDs))
		for i, id := range q.DataItemIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " AND data_item_id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if !q.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, q.From.UnixMicro())
	}
	if !q.To.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, q.To.UnixMicro())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += fmt.Sprintf(" ORDER BY sequence LIMIT %d", limit)

	rows, err := ar.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive query failed: %w", err)
	}
	defer rows.Close()

	out := make([]models.ObservationRecord, 0)
	for rows.Next() {
		var (
			rec            models.ObservationRecord
			bufferKey      int32
			category, repr string
			micros         int64
			values         string
		)
		if err := rows.Scan(&rec.Sequence, &bufferKey, &rec.DeviceUUID, &rec.DataItemID, &category, &repr, &micros, &values); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(values), &rec.Values); err != nil {
			return nil, fmt.Errorf("failed to decode values of sequence %d: %w", rec.Sequence, err)
		}
		rec.BufferKey = int(bufferKey)
		rec.Category = models.Category(category)
		rec.Representation = models.Representation(repr)
		rec.Timestamp = time.UnixMicro(micros).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Len returns the number of observations written to the database.
func (ar *Archive) Len() int64 {
	ar.flushMu.Lock()
	defer ar.flushMu.Unlock()
	return ar.stored
}

// Pending returns the number of queued observations.
func (ar *Archive) Pending() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.batch)
}

// LastError returns the last flush error.
func (ar *Archive) LastError() error {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.lastError
}

// Close flushes pending observations and closes the database.
func (ar *Archive) Close() error {
	err := ar.Flush()
	if cerr := ar.db.Close(); err == nil {
		err = cerr
	}
	return err
}
