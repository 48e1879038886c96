// Package cache je "hot storage" ve Valkey (Redis): poslední uložený záznam
// a poslední parkovací údaj pro každého uživatele. Historie je v Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"road-telemetry/internal/telemetry"
)

// ErrMiss: klíč ve Valkey není (ještě nic nepřišlo nebo expiroval).
var ErrMiss = errors.New("hodnota není v cache")

// DefaultTTL: hodnoty expirují po 24h, aby zmizela data mrtvých vozidel.
const DefaultTTL = 24 * time.Hour

const latestRecordKey = "telemetry:last"

func parkingKey(userID int64) string {
	return fmt.Sprintf("parking:last:%d", userID)
}

// Valkey obaluje redis klienta.
type Valkey struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewValkey vytvoří klienta a ověří spojení.
func NewValkey(ctx context.Context, addr string) (*Valkey, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Valkey není dostupný: %w", err)
	}
	return &Valkey{rdb: rdb, ttl: DefaultTTL}, nil
}

// Ping pro healthcheck.
func (v *Valkey) Ping(ctx context.Context) error {
	return v.rdb.Ping(ctx).Err()
}

func (v *Valkey) Close() error {
	return v.rdb.Close()
}

// SetLatestRecord přepíše poslední známý záznam.
func (v *Valkey) SetLatestRecord(ctx context.Context, rec telemetry.PersistedRecord) error {
	return v.setJSON(ctx, latestRecordKey, rec)
}

// LatestRecord vrátí poslední uložený záznam nebo ErrMiss.
func (v *Valkey) LatestRecord(ctx context.Context) (telemetry.PersistedRecord, error) {
	var rec telemetry.PersistedRecord
	err := v.getJSON(ctx, latestRecordKey, &rec)
	return rec, err
}

// SetLatestParking uloží poslední parkovací údaj uživatele.
func (v *Valkey) SetLatestParking(ctx context.Context, p telemetry.AggregatedParking) error {
	return v.setJSON(ctx, parkingKey(p.UserID), p)
}

// LatestParking vrátí poslední parkovací údaj uživatele nebo ErrMiss.
func (v *Valkey) LatestParking(ctx context.Context, userID int64) (telemetry.AggregatedParking, error) {
	var p telemetry.AggregatedParking
	err := v.getJSON(ctx, parkingKey(userID), &p)
	return p, err
}

func (v *Valkey) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := v.rdb.Set(ctx, key, data, v.ttl).Err(); err != nil {
		return fmt.Errorf("chyba update Valkey (%s): %w", key, err)
	}
	return nil
}

func (v *Valkey) getJSON(ctx context.Context, key string, dst any) error {
	data, err := v.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("chyba čtení z Valkey (%s): %w", key, err)
	}
	return json.Unmarshal(data, dst)
}
