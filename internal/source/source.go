// Package source přehrává konečný nahraný dataset (tři CSV soubory) jako nekonečný proud.
// Když soubor dojde nebo obsahuje vadný řádek, zdroj všechny soubory znovu otevře
// a čte od začátku (wraparound).
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"road-telemetry/internal/telemetry"
)

var (
	// ErrSourceUnavailable: některý soubor při otevření chybí nebo nejde číst. Fatální při startu.
	ErrSourceUnavailable = errors.New("zdroj dat není dostupný")

	// ErrSourceExhausted: čtení selhalo i po jednom restartu. Dataset je prázdný nebo poškozený.
	ErrSourceExhausted = errors.New("zdroj dat je vyčerpaný nebo poškozený")

	// ErrNotOpen: čtení před Open nebo po Close.
	ErrNotOpen = errors.New("zdroj dat není otevřený")
)

// Počty sloupců v jednotlivých souborech.
const (
	accelerometerColumns = 3 // x, y, z
	gpsColumns           = 2 // latitude, longitude
	parkingColumns       = 3 // latitude, longitude, empty_count
)

// Paths jsou cesty ke třem nahraným souborům.
type Paths struct {
	Accelerometer string
	Gps           string
	Parking       string
}

// Option upravuje FileSource při vytvoření.
type Option func(*FileSource)

// WithClock nahradí time.Now (v testech chceme deterministický čas).
func WithClock(now func() time.Time) Option {
	return func(s *FileSource) { s.now = now }
}

// WithLogger nastaví logger pro hlášení restartů.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileSource) { s.logger = logger }
}

// FileSource čte synchronizované řádky z CSV souborů.
type FileSource struct {
	paths  Paths
	userID int64
	now    func() time.Time
	logger *slog.Logger

	// mu serializuje čtení a znovuotevření. Jeden handle souboru nesmí číst dvě goroutiny.
	mu      sync.Mutex
	accel   *sequence
	gps     *sequence
	parking *sequence
}

// New vytvoří zdroj. Soubory se otevřou až voláním Open.
func New(paths Paths, userID int64, opts ...Option) *FileSource {
	s := &FileSource{
		paths:  paths,
		userID: userID,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open otevře všechny tři soubory. Buď se otevřou všechny, nebo žádný.
func (s *FileSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *FileSource) openLocked() error {
	s.closeLocked()

	accel, err := openSequence(s.paths.Accelerometer, accelerometerColumns)
	if err != nil {
		return fmt.Errorf("%w: akcelerometr: %w", ErrSourceUnavailable, err)
	}
	gps, err := openSequence(s.paths.Gps, gpsColumns)
	if err != nil {
		accel.close()
		return fmt.Errorf("%w: gps: %w", ErrSourceUnavailable, err)
	}
	parking, err := openSequence(s.paths.Parking, parkingColumns)
	if err != nil {
		accel.close()
		gps.close()
		return fmt.Errorf("%w: parkování: %w", ErrSourceUnavailable, err)
	}

	s.accel, s.gps, s.parking = accel, gps, parking
	return nil
}

// Close uvolní všechny soubory. Lze volat opakovaně i bez předchozího Open.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FileSource) closeLocked() error {
	err := errors.Join(s.accel.close(), s.gps.close(), s.parking.close())
	s.accel, s.gps, s.parking = nil, nil, nil
	return err
}

// reopenLocked je jediná cesta pro restart. Převíjí VŠECHNY tři soubory,
// takže restart vyvolaný parkováním posune i kurzor akcelerometru a GPS.
func (s *FileSource) reopenLocked(reason rowStatus, stream string) error {
	s.logger.Debug("Restart datového zdroje", "stream", stream, "reason", reason.String())
	return s.openLocked()
}

// ReadAggregate vrátí další řádek akcelerometru a GPS.
// Při konci souboru nebo vadném řádku zdroj jednou restartuje a čte znovu.
func (s *FileSource) ReadAggregate(ctx context.Context) (telemetry.AggregatedTelemetry, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.AggregatedTelemetry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accel == nil {
		return telemetry.AggregatedTelemetry{}, ErrNotOpen
	}

	accel, gps, status := s.readPairLocked()
	if status != rowOK {
		if err := s.reopenLocked(status, "telemetry"); err != nil {
			return telemetry.AggregatedTelemetry{}, fmt.Errorf("%w: %w", ErrSourceExhausted, err)
		}
		accel, gps, status = s.readPairLocked()
		if status != rowOK {
			return telemetry.AggregatedTelemetry{}, fmt.Errorf("%w: telemetry (%s)", ErrSourceExhausted, status)
		}
	}

	return telemetry.AggregatedTelemetry{
		Accelerometer: accel,
		Gps:           gps,
		Timestamp:     s.now().UTC(),
		UserID:        s.userID,
	}, nil
}

func (s *FileSource) readPairLocked() (telemetry.AccelerometerSample, telemetry.GpsSample, rowStatus) {
	a, status := s.accel.next()
	if status != rowOK {
		return telemetry.AccelerometerSample{}, telemetry.GpsSample{}, status
	}
	g, status := s.gps.next()
	if status != rowOK {
		return telemetry.AccelerometerSample{}, telemetry.GpsSample{}, status
	}
	return telemetry.AccelerometerSample{X: a[0], Y: a[1], Z: a[2]},
		telemetry.GpsSample{Latitude: g[0], Longitude: g[1]},
		rowOK
}

// ReadParking vrátí další řádek parkovacích dat. Stejná restart politika jako ReadAggregate.
func (s *FileSource) ReadParking(ctx context.Context) (telemetry.AggregatedParking, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.AggregatedParking{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parking == nil {
		return telemetry.AggregatedParking{}, ErrNotOpen
	}

	row, status := s.parking.next()
	if status != rowOK {
		if err := s.reopenLocked(status, "parking"); err != nil {
			return telemetry.AggregatedParking{}, fmt.Errorf("%w: %w", ErrSourceExhausted, err)
		}
		row, status = s.parking.next()
		if status != rowOK {
			return telemetry.AggregatedParking{}, fmt.Errorf("%w: parking (%s)", ErrSourceExhausted, status)
		}
	}

	return telemetry.AggregatedParking{
		Parking: telemetry.ParkingSample{
			EmptyCount: row[2],
			Gps:        telemetry.GpsSample{Latitude: row[0], Longitude: row[1]},
		},
		Timestamp: s.now().UTC(),
		UserID:    s.userID,
	}, nil
}
