package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/observability"
)

const (
	// DefaultChunkSize is the storage backend's single-statement row
	// ceiling. Config may lower it, never raise it.
	DefaultChunkSize = 1000

	// DefaultParallelism bounds concurrent chunk commits per call
	DefaultParallelism = 4
)

// Config tunes the engine
type Config struct {
	ChunkSize   int
	Parallelism int
	Retry       RetryConfig
}

// Engine validates, deduplicates, chunks, and commits record batches
type Engine struct {
	db          *sql.DB
	policy      *authz.Engine
	recorder    *audit.Recorder
	logger      *observability.Logger
	metrics     *observability.Metrics
	retry       *RetryPolicy
	chunkSize   int
	parallelism int
}

// NewEngine creates a bulk synchronization engine
func NewEngine(db *sql.DB, policy *authz.Engine, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics, cfg Config) *Engine {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > DefaultChunkSize {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}

	return &Engine{
		db:          db,
		policy:      policy,
		recorder:    recorder,
		logger:      logger,
		metrics:     metrics,
		retry:       NewRetryPolicy(cfg.Retry),
		chunkSize:   cfg.ChunkSize,
		parallelism: cfg.Parallelism,
	}
}

// pending is a record that survived validation and dedupe
type pending struct {
	raw   RawRecord
	typed map[string]interface{}
}

// batchState carries per-call lookups shared across chunks
type batchState struct {
	table      authz.Table
	periodID   int64
	actor      string
	pairingIDs map[string]int64 // duty_days only: external_id -> pairings.id
}

// chunkOutcome is the disposition of one chunk's records
type chunkOutcome struct {
	inserted int
	failed   []FailedRecord
}

// Sync runs the full pipeline for one batch. Authorization and period
// validity fail the whole call; everything after that is per-record.
// Chunks commit independently, so a storage failure in one chunk never
// rolls back or blocks the others.
func (e *Engine) Sync(ctx context.Context, ident *identity.Identity, table authz.Table, periodID int64, records []RawRecord) (*Result, error) {
	start := time.Now()

	if err := e.policy.Require(ident, table, authz.OpInsert); err != nil {
		e.countBatch(table, "denied")
		return nil, err
	}

	schema, ok := SchemaFor(table)
	if !ok {
		return nil, fmt.Errorf("table %s does not accept bulk sync", table)
	}

	if err := e.checkPeriod(ctx, periodID); err != nil {
		e.countBatch(table, "invalid_period")
		return nil, err
	}

	result := &Result{}
	if len(records) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	state := &batchState{table: table, periodID: periodID, actor: ident.SubjectID}
	if table == authz.TableDutyDays {
		ids, err := e.loadPairingIDs(ctx, periodID)
		if err != nil {
			return nil, err
		}
		state.pairingIDs = ids
	}

	existing, err := e.loadExistingKeys(ctx, table, periodID)
	if err != nil {
		return nil, err
	}

	// Validation and the duplicate pre-filter. The pre-filter is best
	// effort; the partial unique index catches races between concurrent
	// batches, surfacing them per record below.
	pendings := make([]pending, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, raw := range records {
		typed, err := schema.Validate(raw)
		if err != nil {
			result.Failed = append(result.Failed, FailedRecord{Record: raw, Reason: ReasonValidation, Detail: err.Error()})
			continue
		}

		if table == authz.TableDutyDays {
			extID := typed["pairing_external_id"].(string)
			if _, ok := state.pairingIDs[extID]; !ok {
				result.Failed = append(result.Failed, FailedRecord{
					Record: raw,
					Reason: ReasonValidation,
					Detail: fmt.Sprintf("field pairing_external_id: no pairing %q in period %d", extID, periodID),
				})
				continue
			}
		}

		key := naturalKey(table, typed)
		if _, dup := existing[key]; dup {
			result.SkippedDuplicate++
			continue
		}
		if _, dup := seen[key]; dup {
			result.SkippedDuplicate++
			continue
		}
		seen[key] = struct{}{}

		pendings = append(pendings, pending{raw: raw, typed: typed})
	}

	chunks := chunkRecords(pendings, e.chunkSize)
	outcomes := make([]chunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range chunks {
		i := i
		g.Go(func() error {
			// Chunk failures are per-record outcomes, never group
			// errors, so one chunk cannot cancel its siblings.
			outcomes[i] = e.commitChunk(gctx, state, chunks[i])
			return nil
		})
	}
	// Workers never return errors; nothing to collect here.
	_ = g.Wait()

	for _, o := range outcomes {
		result.Inserted += o.inserted
		result.Failed = append(result.Failed, o.failed...)
	}
	result.Duration = time.Since(start)

	e.observe(table, result)
	if e.logger != nil {
		e.logger.WithFields(map[string]interface{}{
			"table":             string(table),
			"period_id":         periodID,
			"inserted":          result.Inserted,
			"skipped_duplicate": result.SkippedDuplicate,
			"failed":            len(result.Failed),
			"duration_ms":       result.Duration.Milliseconds(),
		}).Info("bulk sync finished")
	}

	return result, nil
}

// checkPeriod rejects a missing or soft-deleted period before any row
// is touched
func (e *Engine) checkPeriod(ctx context.Context, periodID int64) error {
	var id int64
	err := e.db.QueryRowContext(ctx,
		`SELECT id FROM periods WHERE id = $1 AND deleted_at IS NULL`, periodID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrInvalidPeriod
	}
	if err != nil {
		return fmt.Errorf("failed to check period %d: %w", periodID, err)
	}
	return nil
}

func (e *Engine) loadPairingIDs(ctx context.Context, periodID int64) (map[string]int64, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, external_id FROM pairings WHERE period_id = $1 AND deleted_at IS NULL`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairings for period %d: %w", periodID, err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var extID string
		if err := rows.Scan(&id, &extID); err != nil {
			return nil, fmt.Errorf("failed to scan pairing row: %w", err)
		}
		ids[extID] = id
	}
	return ids, rows.Err()
}

// loadExistingKeys fetches the natural keys already present among
// non-deleted rows, for the duplicate pre-filter
func (e *Engine) loadExistingKeys(ctx context.Context, table authz.Table, periodID int64) (map[string]struct{}, error) {
	var query string
	switch table {
	case authz.TablePairings:
		query = `SELECT external_id FROM pairings WHERE period_id = $1 AND deleted_at IS NULL`
	case authz.TableBidLines:
		query = `SELECT line_number::text FROM bid_lines WHERE period_id = $1 AND deleted_at IS NULL`
	case authz.TableDutyDays:
		query = `SELECT p.external_id || '/' || d.sequence_no FROM duty_days d
			JOIN pairings p ON p.id = d.pairing_id
			WHERE p.period_id = $1 AND d.deleted_at IS NULL`
	default:
		return nil, fmt.Errorf("table %s does not accept bulk sync", table)
	}

	rows, err := e.db.QueryContext(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing keys for %s: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// commitChunk commits one chunk with retry on transient failures. A
// rollback discards the chunk's audit rows along with its inserts, so
// a retried attempt never duplicates audit entries.
func (e *Engine) commitChunk(ctx context.Context, state *batchState, recs []pending) chunkOutcome {
	var out chunkOutcome

	attempts, err := e.retry.Do(ctx, func() error {
		o, tryErr := e.tryChunk(ctx, state, recs)
		if tryErr == nil {
			out = o
		}
		return tryErr
	})

	if attempts > 1 && e.metrics != nil {
		e.metrics.SyncChunkRetries.Add(float64(attempts - 1))
	}

	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"table":    string(state.table),
				"records":  len(recs),
				"attempts": attempts,
			}).Error("chunk commit failed")
		}
		out = chunkOutcome{}
		for _, p := range recs {
			out.failed = append(out.failed, FailedRecord{Record: p.raw, Reason: ReasonStorage, Detail: err.Error()})
		}
	}

	return out
}

func (e *Engine) tryChunk(ctx context.Context, state *batchState, recs []pending) (chunkOutcome, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return chunkOutcome{}, fmt.Errorf("failed to begin chunk transaction: %w", err)
	}
	defer tx.Rollback()

	var out chunkOutcome
	for _, p := range recs {
		id, inserted, err := e.insertRecord(ctx, tx, state, p.typed)
		if err != nil {
			return chunkOutcome{}, err
		}
		if !inserted {
			// Lost a race with a concurrent batch; the unique index,
			// not the pre-filter, is the authority here.
			out.failed = append(out.failed, FailedRecord{
				Record: p.raw,
				Reason: ReasonDuplicateKey,
				Detail: "natural key already exists",
			})
			continue
		}

		err = e.recorder.Record(ctx, tx, &audit.Entry{
			ActorID:   state.actor,
			Action:    audit.ActionInsert,
			TableName: string(state.table),
			RecordID:  id,
		})
		if err != nil {
			return chunkOutcome{}, fmt.Errorf("audit write failed, aborting chunk: %w", err)
		}
		out.inserted++
	}

	if err := tx.Commit(); err != nil {
		return chunkOutcome{}, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return out, nil
}

// insertRecord inserts one row, reporting inserted=false when the
// partial unique index suppressed it
func (e *Engine) insertRecord(ctx context.Context, tx *sql.Tx, state *batchState, typed map[string]interface{}) (int64, bool, error) {
	var query string
	var args []interface{}

	switch state.table {
	case authz.TablePairings:
		query = `INSERT INTO pairings (period_id, external_id, base, fleet, credit_hours, block_hours, days, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id, period_id) WHERE deleted_at IS NULL DO NOTHING
			RETURNING id`
		args = []interface{}{
			state.periodID, typed["external_id"], typed["base"], typed["fleet"],
			typed["credit_hours"], typed["block_hours"], typed["days"],
			state.actor, state.actor,
		}

	case authz.TableDutyDays:
		query = `INSERT INTO duty_days (pairing_id, sequence_no, duty_date, legs, duty_hours, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pairing_id, sequence_no) WHERE deleted_at IS NULL DO NOTHING
			RETURNING id`
		args = []interface{}{
			state.pairingIDs[typed["pairing_external_id"].(string)],
			typed["sequence_no"], typed["duty_date"], typed["legs"], typed["duty_hours"],
			state.actor, state.actor,
		}

	case authz.TableBidLines:
		query = `INSERT INTO bid_lines (period_id, line_number, credit_hours, block_hours, days_off, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (line_number, period_id) WHERE deleted_at IS NULL DO NOTHING
			RETURNING id`
		args = []interface{}{
			state.periodID, typed["line_number"], typed["credit_hours"],
			typed["block_hours"], typed["days_off"],
			state.actor, state.actor,
		}

	default:
		return 0, false, fmt.Errorf("table %s does not accept bulk sync", state.table)
	}

	var id int64
	err := tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert into %s: %w", state.table, err)
	}
	return id, true, nil
}

// chunkRecords partitions records into commit units of at most size
func chunkRecords(recs []pending, size int) [][]pending {
	if len(recs) == 0 {
		return nil
	}
	chunks := make([][]pending, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}
		chunks = append(chunks, recs[start:end])
	}
	return chunks
}

func (e *Engine) countBatch(table authz.Table, outcome string) {
	if e.metrics != nil {
		e.metrics.SyncBatchesTotal.WithLabelValues(string(table), outcome).Inc()
	}
}

func (e *Engine) observe(table authz.Table, result *Result) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	e.metrics.SyncBatchesTotal.WithLabelValues(string(table), outcome).Inc()
	e.metrics.SyncRecordsTotal.WithLabelValues(string(table), "inserted").Add(float64(result.Inserted))
	e.metrics.SyncRecordsTotal.WithLabelValues(string(table), "skipped_duplicate").Add(float64(result.SkippedDuplicate))
	e.metrics.SyncRecordsTotal.WithLabelValues(string(table), "failed").Add(float64(len(result.Failed)))
	e.metrics.SyncDuration.WithLabelValues(string(table)).Observe(result.Duration.Seconds())
}
