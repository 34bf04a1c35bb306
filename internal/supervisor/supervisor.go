// Package supervisor restarts a set of long-running observers with
// bounded, exponentially backed-off attempts, and wraps that whole set
// in an outer cycle that can itself be torn down and re-entered after a
// network outage. It is grounded on the source's ObserverSupervisor and
// AutoReconnectBot: Go's goroutines stand in for asyncio tasks, and
// context.Context cancellation stands in for the shutdown event.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/reliability"
)

// Runnable is anything a Supervisor can run and restart — BalanceObserver
// and PriceObserver both satisfy this with their Launch method.
type Runnable interface {
	Launch(ctx context.Context) error
}

// Config holds the restart-policy tunables, defaulted to the source's
// constants.
type Config struct {
	RestartDelay       time.Duration // default 3s
	MaxRestartDelay    time.Duration // default 30s
	MaxRestartAttempts int           // default 5
	ResetAttemptsAfter time.Duration // default 60s
}

// DefaultConfig matches the source's ObserverSupervisor defaults.
func DefaultConfig() Config {
	return Config{
		RestartDelay:       3 * time.Second,
		MaxRestartDelay:    30 * time.Second,
		MaxRestartAttempts: 5,
		ResetAttemptsAfter: 60 * time.Second,
	}
}

// Supervisor restarts a fixed set of Runnables until one exceeds its
// restart budget or the context is cancelled.
type Supervisor struct {
	cfg Config
	bus *events.Manager
	log zerolog.Logger
}

// New constructs a Supervisor with cfg (use DefaultConfig() for the
// source's defaults).
func New(cfg Config, bus *events.Manager, log zerolog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, bus: bus, log: log.With().Str("component", "supervisor").Logger()}
}

// RestartLimitExceededError reports that one named observer exhausted
// its restart budget; Run returns this to signal the caller (typically
// AutoReconnectBot) that the whole cycle must be torn down.
type RestartLimitExceededError struct {
	Name     string
	Attempts int
	LastErr  error
}

func (e *RestartLimitExceededError) Error() string {
	return fmt.Sprintf("supervisor: %s exceeded restart limit after %d attempts: %v", e.Name, e.Attempts, e.LastErr)
}
func (e *RestartLimitExceededError) Unwrap() error { return e.LastErr }

// Run launches every named observer and restarts it on any non-cancelled
// exit. It blocks until ctx is cancelled or one observer exceeds its
// restart budget, whichever comes first; in the latter case it cancels
// every other observer before returning the triggering error.
func (s *Supervisor) Run(ctx context.Context, observers map[string]Runnable) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(observers))
	var wg sync.WaitGroup
	for name, r := range observers {
		wg.Add(1)
		go func(name string, r Runnable) {
			defer wg.Done()
			if err := s.superviseOne(ctx, name, r); err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}(name, r)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// superviseOne runs r in a restart loop until ctx is cancelled or its
// restart attempt counter exceeds cfg.MaxRestartAttempts. An attempt only
// counts if the prior run lasted less than cfg.ResetAttemptsAfter;
// longer runs reset the counter, matching the source's "observer has been
// stable for a while" forgiveness.
func (s *Supervisor) superviseOne(ctx context.Context, name string, r Runnable) error {
	attempts := 0
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		err := r.Launch(ctx)
		runtime := time.Since(started)

		if ctx.Err() != nil {
			return nil
		}

		lastErr = err
		if runtime >= s.cfg.ResetAttemptsAfter {
			attempts = 0
		} else {
			attempts++
		}

		if s.cfg.MaxRestartAttempts > 0 && attempts > s.cfg.MaxRestartAttempts {
			if s.bus != nil {
				s.bus.Emit(events.SupervisorHalted, name, &events.SupervisorHaltedData{
					Name: name, Attempts: attempts, LastErr: errString(lastErr),
				})
			}
			return &RestartLimitExceededError{Name: name, Attempts: attempts, LastErr: lastErr}
		}

		delay := reliability.Backoff(s.cfg.RestartDelay, s.cfg.MaxRestartDelay, attempts-1)
		s.log.Warn().Err(err).Str("observer", name).Int("attempt", attempts).Dur("delay", delay).Msg("restarting observer")
		if s.bus != nil {
			s.bus.Emit(events.ObserverRestarted, name, &events.ObserverRestartedData{
				Exchange: name, Observer: name, Attempt: attempts,
			})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
