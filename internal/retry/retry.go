// Package retry obsahuje jednoduchou politiku opakování s pevným intervalem.
// Žádné exponenciální zpožďování: služby jen čekají, až naběhne broker nebo databáze.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval je pauza mezi pokusy o připojení k brokeru.
const DefaultInterval = 5 * time.Second

// Policy popisuje, jak často a kolikrát se operace opakuje.
type Policy struct {
	Interval    time.Duration // pevná pauza mezi pokusy
	MaxAttempts int           // 0 = neomezeně

	// OnRetry se zavolá po každém neúspěšném pokusu, před čekáním (typicky logování).
	OnRetry func(attempt int, err error)
}

// NonRetryableError označí chybu, po které nemá smysl to zkoušet znovu (např. 4xx od API).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable obalí chybu tak, že Do skončí hned po ní.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable hlásí, jestli je chyba označená jako neopakovatelná.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Forever vrátí politiku s neomezeným počtem pokusů.
func Forever(interval time.Duration) Policy {
	return Policy{Interval: interval}
}

// Do volá fn, dokud neuspěje, nedojdou pokusy, nebo se nezruší ctx.
// Při zrušení vrací chybu obalující ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Interval < 0 {
		return errors.New("retry: Interval nesmí být záporný")
	}

	var lastErr error
	for attempt := 1; p.MaxAttempts <= 0 || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry zrušen před pokusem %d: %w", attempt, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsNonRetryable(err) {
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		// Po posledním pokusu už nespíme.
		if p.MaxAttempts > 0 && attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry zrušen během čekání po pokusu %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry selhal po %d pokusech: %w", p.MaxAttempts, lastErr)
}
