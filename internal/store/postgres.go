package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

//go:embed schema.sql
var schemaSQL string

// SQLSTATE codes.
const (
	codeUniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Postgres is the PostgreSQL Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open pool. The pool's lifecycle is managed by the caller.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

// Schema returns the DDL applied by EnsureSchema.
func Schema() string { return schemaSQL }

func (p *Postgres) Health(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Postgres) ListCoordinates(ctx context.Context) (record.CoordinateSet, error) {
	query, args, err := psql.Select("x", "y").From("coordinates").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list coordinates: %w", classify(err))
	}
	defer rows.Close()

	set := make(record.CoordinateSet)
	for rows.Next() {
		var c record.Coordinates
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scan coordinates: %w", err)
		}
		set.Add(c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list coordinates: %w", classify(err))
	}
	return set, nil
}

func (p *Postgres) ExistsAt(ctx context.Context, c record.Coordinates) (bool, error) {
	return existsAt(ctx, p.pool, c)
}

// Insert writes one city in its own transaction.
func (p *Postgres) Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return City{}, fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	city, err := insertCity(ctx, tx, rec, created)
	if err != nil {
		return City{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return City{}, fmt.Errorf("commit: %w", classify(err))
	}
	return city, nil
}

func (p *Postgres) AlreadyImported(ctx context.Context, correlationID string) (bool, error) {
	return alreadyImported(ctx, p.pool, correlationID)
}

func (p *Postgres) Begin(ctx context.Context) (ImportTx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classify(err))
	}
	return &pgImportTx{tx: tx}, nil
}

type pgImportTx struct {
	tx pgx.Tx
}

func (t *pgImportTx) ExistsAt(ctx context.Context, c record.Coordinates) (bool, error) {
	return existsAt(ctx, t.tx, c)
}

func (t *pgImportTx) Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error) {
	return insertCity(ctx, t.tx, rec, created)
}

func (t *pgImportTx) AlreadyImported(ctx context.Context, correlationID string) (bool, error) {
	return alreadyImported(ctx, t.tx, correlationID)
}

func (t *pgImportTx) MarkImported(ctx context.Context, correlationID string, records int) error {
	query, args, err := psql.Insert("import_batches").
		Columns("correlation_id", "records").
		Values(correlationID, records).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record import: %w", classify(err))
	}
	return nil
}

func (t *pgImportTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

func (t *pgImportTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", classify(err))
	}
	return nil
}

func alreadyImported(ctx context.Context, db DBTX, correlationID string) (bool, error) {
	query, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From("import_batches").
		Where(sq.Eq{"correlation_id": correlationID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, err
	}
	var found bool
	if err := db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("check import ledger: %w", classify(err))
	}
	return found, nil
}

func existsAt(ctx context.Context, db DBTX, c record.Coordinates) (bool, error) {
	query, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From("coordinates").
		Where(sq.Eq{"x": c.X, "y": c.Y}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, err
	}
	var found bool
	if err := db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("exists at (%d, %d): %w", c.X, c.Y, classify(err))
	}
	return found, nil
}

// insertCity writes the coordinates row, the governor row when the record
// carries a governor value, and the city row.
func insertCity(ctx context.Context, db DBTX, rec record.ValidatedRecord, created time.Time) (City, error) {
	city := City{ValidatedRecord: rec, CreationDate: CreationDate(created)}

	var coordID int64
	if err := insertReturningID(ctx, db, psql.Insert("coordinates").
		Columns("x", "y").
		Values(rec.Coordinates.X, rec.Coordinates.Y), &coordID); err != nil {
		return City{}, fmt.Errorf("insert coordinates (%d, %d): %w", rec.Coordinates.X, rec.Coordinates.Y, err)
	}

	if g := rec.Governor; g != nil && (g.Age != nil || g.Height != nil) {
		var govID int64
		if err := insertReturningID(ctx, db, psql.Insert("humans").
			Columns("age", "height").
			Values(g.Age, g.Height), &govID); err != nil {
			return City{}, fmt.Errorf("insert governor: %w", err)
		}
		city.GovernorID = &govID
	}

	var government *string
	if rec.Government != "" {
		government = &rec.Government
	}
	var established *string
	if rec.EstablishmentDate != "" {
		established = &rec.EstablishmentDate
	}

	if err := insertReturningID(ctx, db, psql.Insert("cities").
		Columns(
			"name", "coordinates_id", "creation_date", "area", "population",
			"establishment_date", "capital", "meters_above_sea_level",
			"climate", "government", "standard_of_living", "governor_id",
		).
		Values(
			rec.Name, coordID, city.CreationDate, rec.Area, rec.Population,
			established, rec.Capital, rec.MetersAboveSeaLevel,
			rec.Climate, government, rec.StandardOfLiving, city.GovernorID,
		), &city.ID); err != nil {
		return City{}, fmt.Errorf("insert city %q: %w", rec.Name, err)
	}
	return city, nil
}

func insertReturningID(ctx context.Context, db DBTX, b sq.InsertBuilder, id *int64) error {
	query, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return err
	}
	if err := db.QueryRow(ctx, query, args...).Scan(id); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the sentinel taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pgErr.Detail)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return err
}
