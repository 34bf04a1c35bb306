package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/reliability"
)

// CycleFunc builds one full bot cycle — adapter factories, connections,
// observers, Supervisor.Run — and blocks until that cycle fails or ctx is
// cancelled. It is grounded on the source's BotCycle: a factory entered
// fresh on every iteration so a previous cycle's half-torn-down state can
// never leak into the next attempt.
type CycleFunc func(ctx context.Context) error

// BotConfig tunes the outer cycle-restart policy, defaulted to the
// source's AutoReconnectBot constants.
type BotConfig struct {
	NetworkProbeAddr    string        // default "1.1.1.1:53"
	ProbeInterval       time.Duration // default 5s
	CycleRestartDelay   time.Duration // default 5s
	CycleRestartMaxWait time.Duration // default 300s
}

// DefaultBotConfig matches the source's defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		NetworkProbeAddr:    "1.1.1.1:53",
		ProbeInterval:       5 * time.Second,
		CycleRestartDelay:   5 * time.Second,
		CycleRestartMaxWait: 300 * time.Second,
	}
}

// AutoReconnectBot re-enters cycle forever, waiting for network
// reachability and backing off between attempts whenever a cycle fails.
type AutoReconnectBot struct {
	cfg   BotConfig
	cycle CycleFunc
	log   zerolog.Logger
}

// NewAutoReconnectBot constructs an AutoReconnectBot driving cycle.
func NewAutoReconnectBot(cfg BotConfig, cycle CycleFunc, log zerolog.Logger) *AutoReconnectBot {
	return &AutoReconnectBot{cfg: cfg, cycle: cycle, log: log.With().Str("component", "auto_reconnect_bot").Logger()}
}

// Run blocks until ctx is cancelled, re-entering b.cycle every time it
// returns a non-nil error. A nil return (graceful, voluntary exit with no
// failure) also re-enters the cycle after resetting the restart counter,
// matching the source's "run forever until shutdown is requested" loop.
func (b *AutoReconnectBot) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := b.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			continue
		}

		attempt++
		b.log.Error().Err(err).Int("attempt", attempt).Msg("bot cycle failed, waiting for network before retry")

		if !reliability.WaitUntilReachable(ctx, b.cfg.NetworkProbeAddr, b.cfg.ProbeInterval) {
			return
		}

		delay := reliability.Backoff(b.cfg.CycleRestartDelay, b.cfg.CycleRestartMaxWait, attempt-1)
		b.log.Warn().Dur("delay", delay).Msg("restarting bot cycle")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
