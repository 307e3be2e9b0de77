// Package orm is the relational backend: it resolves links to joins and
// predicates, provides items, collections and paginators, and persists
// records in PostgreSQL.
package orm

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/state"
)

// RootAlias is the alias of the queried table.
const RootAlias = "o"

// RetryConfig configures retries of transactions failing on deadlocks or
// serialization errors
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond}
}

// Open opens a PostgreSQL pool through the pgx stdlib driver and checks it.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Manager maps resources to tables and runs statements
type Manager struct {
	db       *sql.DB
	registry state.ResourceRegistry
	logger   *zap.Logger
	retry    RetryConfig
}

// NewManager creates a manager
func NewManager(db *sql.DB, registry state.ResourceRegistry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, registry: registry, logger: logger, retry: DefaultRetryConfig()}
}

// WithRetry returns a copy using another retry configuration
func (m *Manager) WithRetry(cfg RetryConfig) *Manager {
	c := *m
	c.retry = cfg
	return &c
}

// DB returns the database pool
func (m *Manager) DB() *sql.DB { return m.db }

// Registry returns the resource metadata
func (m *Manager) Registry() state.ResourceRegistry { return m.registry }

// Resource returns the metadata of a class handled by this manager
func (m *Manager) Resource(class string) (*metadata.Resource, error) {
	res, ok := m.registry.Resource(class)
	if !ok {
		return nil, &state.RuntimeError{Message: fmt.Sprintf("No manager for class %q.", class), Err: ErrNoManager}
	}
	return res, nil
}

// CreateQueryBuilder returns a builder over the class table
func (m *Manager) CreateQueryBuilder(class string) (*query.Builder, *metadata.Resource, error) {
	res, err := m.Resource(class)
	if err != nil {
		return nil, nil, err
	}
	return query.New(res.TableName(), RootAlias), res, nil
}

// WithTransaction runs fn in a transaction, committing on success. Deadlocks
// and serialization failures are retried with exponential backoff.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	attempts := max(m.retry.MaxRetries, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		err := m.transaction(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		lastErr = err
		backoff := m.retry.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Warn("retrying transaction", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, lastErr)
}

func (m *Manager) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Find loads one record by identifiers, nil when missing
func (m *Manager) Find(ctx context.Context, class string, ids *identifier.Values) (*model.Record, error) {
	qb, res, err := m.CreateQueryBuilder(class)
	if err != nil {
		return nil, err
	}
	for _, name := range ids.Names() {
		v, _ := ids.Get(name)
		placeholder := qb.Names().ParameterName("id_" + name)
		qb.AndWhere(fmt.Sprintf("%s.%s = :%s", RootAlias, res.Column(name), placeholder)).
			SetParameter(placeholder, v, res.IdentifierType(name))
	}
	row, err := qb.OneOrNull(ctx, m.db)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	if row == nil {
		return nil, nil
	}
	return Hydrate(res, row), nil
}

// Persist inserts or updates the record and refreshes it from the returned row
func (m *Manager) Persist(ctx context.Context, rec *model.Record) error {
	res, err := m.Resource(rec.ResourceClass())
	if err != nil {
		return err
	}

	return m.WithTransaction(ctx, func(tx *sql.Tx) error {
		var row map[string]any
		var err error
		if rec.Exists() {
			row, err = m.update(ctx, tx, res, rec)
		} else {
			row, err = m.insert(ctx, tx, res, rec)
		}
		if err != nil {
			return ConvertDBError(err)
		}
		if row != nil {
			refresh(res, rec, row)
		}
		rec.SetExists(true)
		rec.SyncOriginal()
		return nil
	})
}

// Remove deletes the record
func (m *Manager) Remove(ctx context.Context, rec *model.Record) error {
	res, err := m.Resource(rec.ResourceClass())
	if err != nil {
		return err
	}

	where, args, err := identifierPredicate(res, rec, 1)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", pq.QuoteIdentifier(res.TableName()), where)

	return m.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return ConvertDBError(err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return state.NotFound("Not Found")
		}
		return nil
	})
}

func (m *Manager) insert(ctx context.Context, tx *sql.Tx, res *metadata.Resource, rec *model.Record) (map[string]any, error) {
	populateAutoFields(res, rec, true)

	cols, values := columnsOf(res, rec.Attributes())
	if len(cols) == 0 {
		return nil, fmt.Errorf("no fields to insert")
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(res.TableName()),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	return queryOne(ctx, tx, stmt, values)
}

func (m *Manager) update(ctx context.Context, tx *sql.Tx, res *metadata.Resource, rec *model.Record) (map[string]any, error) {
	dirty := rec.Dirty()
	for _, id := range res.Identifiers {
		delete(dirty, id)
	}
	if len(dirty) == 0 {
		return nil, nil
	}
	populateAutoFields(res, rec, false)
	if _, ok := res.Field("updated_at"); ok {
		dirty["updated_at"] = rec.Get("updated_at")
	}

	cols, values := columnsOf(res, dirty)
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	where, idArgs, err := identifierPredicate(res, rec, len(cols)+1)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		pq.QuoteIdentifier(res.TableName()),
		strings.Join(sets, ", "),
		where,
	)
	row, err := queryOne(ctx, tx, stmt, append(values, idArgs...))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, state.NotFound("Not Found")
	}
	return row, nil
}

// columnsOf maps attributes to sorted columns: declared fields and foreign
// keys of belongs_to relations. Other attributes are not stored.
func columnsOf(res *metadata.Resource, attrs map[string]any) ([]string, []any) {
	fks := make(map[string]bool)
	for _, rel := range res.Relations {
		if rel.IsOwningSide() {
			fks[rel.ForeignKeyColumn(res.Class)] = true
		}
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if res.HasField(name) || fks[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	cols := make([]string, len(names))
	values := make([]any, len(names))
	for i, name := range names {
		if res.HasField(name) {
			cols[i] = res.Column(name)
		} else {
			cols[i] = name
		}
		values[i] = attrs[name]
	}
	return cols, values
}

func identifierPredicate(res *metadata.Resource, rec *model.Record, start int) (string, []any, error) {
	parts := make([]string, 0, len(res.Identifiers))
	args := make([]any, 0, len(res.Identifiers))
	for i, id := range res.Identifiers {
		v, ok := rec.Lookup(id)
		if !ok || v == nil {
			return "", nil, state.Runtime("Identifier %q of %s is not set.", id, res.Class)
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", res.Column(id), start+i))
		args = append(args, v)
	}
	return strings.Join(parts, " AND "), args, nil
}

// populateAutoFields generates UUID identifiers and maintains
// created_at/updated_at timestamps
func populateAutoFields(res *metadata.Resource, rec *model.Record, creating bool) {
	now := time.Now().UTC()
	if creating {
		for _, id := range res.Identifiers {
			if _, ok := rec.Lookup(id); !ok && res.IdentifierType(id) == metadata.TypeUUID {
				rec.Set(id, uuid.New().String())
			}
		}
		if f, ok := res.Field("created_at"); ok && f.Type == metadata.TypeTimestamp {
			if _, set := rec.Lookup("created_at"); !set {
				rec.Set("created_at", now)
			}
		}
	}
	if f, ok := res.Field("updated_at"); ok && f.Type == metadata.TypeTimestamp {
		if _, set := rec.Lookup("updated_at"); !set || !creating {
			rec.Set("updated_at", now)
		}
	}
}

func queryOne(ctx context.Context, q query.Querier, stmt string, args []any) (map[string]any, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results, err := query.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Hydrate builds a stored record from a row keyed by column
func Hydrate(res *metadata.Resource, row map[string]any) *model.Record {
	return model.Hydrate(res.Class, propertiesOf(res, row))
}

func refresh(res *metadata.Resource, rec *model.Record, row map[string]any) {
	for name, v := range propertiesOf(res, row) {
		rec.Set(name, v)
	}
}

func propertiesOf(res *metadata.Resource, row map[string]any) map[string]any {
	byColumn := make(map[string]string, len(res.Fields))
	for name, f := range res.Fields {
		byColumn[f.ColumnName()] = name
	}
	out := make(map[string]any, len(row))
	for col, v := range row {
		if name, ok := byColumn[col]; ok {
			out[name] = v
		} else {
			out[col] = v
		}
	}
	return out
}
