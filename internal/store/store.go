// Package store ukládá zpracované záznamy do Postgres (tabulka processed_agent_data).
package store

import (
	"context"
	"errors"

	"road-telemetry/internal/telemetry"
)

var (
	// ErrPersistence: dávku nešlo uložit, nic nebylo commitnuto.
	ErrPersistence = errors.New("uložení do databáze selhalo")

	// ErrNotFound: záznam s daným ID neexistuje.
	ErrNotFound = errors.New("záznam nenalezen")
)

// Store je rozhraní, přes které se k databázi dostává zbytek aplikace.
type Store interface {
	// InsertBatch vloží všechny záznamy v jedné transakci, v pořadí dávky.
	// Vrací řádky s přidělenými ID, nebo chybu obalující ErrPersistence (pak se neuložilo nic).
	InsertBatch(ctx context.Context, batch []telemetry.ValidatedRecord) ([]telemetry.PersistedRecord, error)

	Get(ctx context.Context, id int64) (telemetry.PersistedRecord, error)
	List(ctx context.Context) ([]telemetry.PersistedRecord, error)
	Update(ctx context.Context, id int64, rec telemetry.ValidatedRecord) (telemetry.PersistedRecord, error)
	Delete(ctx context.Context, id int64) (telemetry.PersistedRecord, error)
}
