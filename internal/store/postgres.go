package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"road-telemetry/internal/telemetry"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_agent_data (
	id          SERIAL PRIMARY KEY,
	road_state  TEXT             NOT NULL,
	x           DOUBLE PRECISION NOT NULL,
	y           DOUBLE PRECISION NOT NULL,
	z           DOUBLE PRECISION NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	"timestamp" TIMESTAMPTZ      NOT NULL
)`

const (
	columns   = `id, road_state, x, y, z, latitude, longitude, "timestamp"`
	insertSQL = `INSERT INTO processed_agent_data (road_state, x, y, z, latitude, longitude, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	selectOneSQL = `SELECT ` + columns + ` FROM processed_agent_data WHERE id = $1`
	selectAllSQL = `SELECT ` + columns + ` FROM processed_agent_data ORDER BY id ASC`
	updateSQL    = `UPDATE processed_agent_data
		SET road_state = $2, x = $3, y = $4, z = $5, latitude = $6, longitude = $7, "timestamp" = $8
		WHERE id = $1 RETURNING ` + columns
	deleteSQL = `DELETE FROM processed_agent_data WHERE id = $1 RETURNING ` + columns
)

// PostgresStore je Store nad pgxpool. Pool je thread-safe, jedna instance pro celou službu.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore vytvoří pool a ověří spojení pingem.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chyba konfigurace DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("DB není dostupná: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate vytvoří tabulku, pokud ještě neexistuje. Jen pro bootstrap, žádné verze schématu.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("vytvoření tabulky selhalo: %w", err)
	}
	return nil
}

// Ping ověří, že databáze odpovídá (healthcheck).
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close uzavře pool při ukončení aplikace.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InsertBatch vloží dávku v jedné transakci. Inserty posíláme jako pgx.Batch (jeden round-trip),
// výsledky se čtou ve stejném pořadí, takže ID odpovídají pořadí v dávce.
func (s *PostgresStore) InsertBatch(ctx context.Context, batch []telemetry.ValidatedRecord) ([]telemetry.PersistedRecord, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: začátek transakce: %w", ErrPersistence, err)
	}
	// Po úspěšném Commit je Rollback no-op.
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, r := range batch {
		b.Queue(insertSQL, r.RoadState,
			r.Accelerometer.X, r.Accelerometer.Y, r.Accelerometer.Z,
			r.Gps.Latitude, r.Gps.Longitude, r.Timestamp)
	}

	results := tx.SendBatch(ctx, b)
	out := make([]telemetry.PersistedRecord, 0, len(batch))
	for i, r := range batch {
		rec := telemetry.FromValidated(r)
		if err := results.QueryRow().Scan(&rec.ID); err != nil {
			results.Close()
			return nil, fmt.Errorf("%w: insert řádku %d: %w", ErrPersistence, i, err)
		}
		out = append(out, rec)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return out, nil
}

// Get vrátí jeden záznam.
func (s *PostgresStore) Get(ctx context.Context, id int64) (telemetry.PersistedRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectOneSQL, id))
	if err != nil {
		return rec, wrapLookup(err, "načtení", id)
	}
	return rec, nil
}

// List vrátí všechny záznamy seřazené podle ID.
func (s *PostgresStore) List(ctx context.Context) ([]telemetry.PersistedRecord, error) {
	rows, err := s.pool.Query(ctx, selectAllSQL)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na záznamy: %w", err)
	}
	defer rows.Close() // uvolnění spojení zpět do poolu

	records := make([]telemetry.PersistedRecord, 0, 100)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update přepíše záznam a vrátí jeho nový stav.
func (s *PostgresStore) Update(ctx context.Context, id int64, r telemetry.ValidatedRecord) (telemetry.PersistedRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, updateSQL, id, r.RoadState,
		r.Accelerometer.X, r.Accelerometer.Y, r.Accelerometer.Z,
		r.Gps.Latitude, r.Gps.Longitude, r.Timestamp))
	if err != nil {
		return rec, wrapLookup(err, "update", id)
	}
	return rec, nil
}

// Delete smaže záznam a vrátí, jak vypadal.
func (s *PostgresStore) Delete(ctx context.Context, id int64) (telemetry.PersistedRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, deleteSQL, id))
	if err != nil {
		return rec, wrapLookup(err, "smazání", id)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (telemetry.PersistedRecord, error) {
	var rec telemetry.PersistedRecord
	err := row.Scan(&rec.ID, &rec.RoadState, &rec.X, &rec.Y, &rec.Z,
		&rec.Latitude, &rec.Longitude, &rec.Timestamp)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, err
}

func wrapLookup(err error, op string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return fmt.Errorf("%s záznamu %d selhalo: %w", op, id, err)
}
