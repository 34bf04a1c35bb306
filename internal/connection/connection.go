// Package connection owns one exchange's upstream session: connecting,
// holding it, detecting faults, reconnecting with backoff, and handing
// out a scoped session to observers and traders. It is grounded on the
// reconnect-loop shape of a production websocket client (dial, read loop,
// exponential backoff, idempotent stop) generalized to an arbitrary
// request/response SDK session instead of a single long-lived socket.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/reliability"
	"github.com/nullstate/arb/internal/sdkiface"
)

// State is one point in the Disabled/Disconnected/Connecting/Connected
// state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disabled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

const (
	retryCountLimit    = 2
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 60 * time.Second
	loadMarketsTimeout = 30 * time.Second
	shutdownRotation   = 24 * time.Hour
)

// Connection manages one exchange's upstream session lifecycle.
type Connection struct {
	exchangeID string
	factory    sdkiface.Factory
	log        zerolog.Logger
	bus        *events.Manager

	mu              sync.RWMutex
	state           State
	session         sdkiface.Session
	stateChangedCh  chan struct{}
	streamFaultCh   chan struct{}
	stopOnce        sync.Once
	stopCh          chan struct{}
	stopped         bool
	reconnecting    bool
	lastLaunchDelay time.Duration
}

// New constructs a Connection for one exchange. factory builds a fresh
// upstream session; it is called once per connect attempt.
func New(exchangeID string, factory sdkiface.Factory, bus *events.Manager, log zerolog.Logger) *Connection {
	return &Connection{
		exchangeID:     exchangeID,
		factory:        factory,
		log:            log.With().Str("exchange", exchangeID).Logger(),
		bus:            bus,
		state:          Disconnected,
		stateChangedCh: make(chan struct{}),
		streamFaultCh:  make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(to State, reason string) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	ch := c.stateChangedCh
	c.stateChangedCh = make(chan struct{})
	c.mu.Unlock()
	close(ch)

	c.log.Info().Str("from", from.String()).Str("to", to.String()).Str("reason", reason).Msg("connection state changed")
	if c.bus != nil {
		c.bus.Emit(events.ConnectionStateChanged, c.exchangeID, &events.ConnectionStateChangedData{
			Exchange: c.exchangeID, From: from.String(), To: to.String(), Reason: reason,
		})
	}
}

// Start launches the connect loop in the background and returns
// immediately. Callers should follow with WaitReady if they need to block
// until the first connection attempt resolves.
func (c *Connection) Start(ctx context.Context) {
	go c.connectLoop(ctx)
}

// Stop requests a graceful, idempotent shutdown. It does not block.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stopCh)
	})
}

// WaitReady blocks until the connection reaches Connected (returns true)
// or Disabled / ctx cancellation (returns false).
func (c *Connection) WaitReady(ctx context.Context) bool {
	for {
		c.mu.RLock()
		st := c.state
		ch := c.stateChangedCh
		c.mu.RUnlock()

		if st == Connected {
			return true
		}
		if st == Disabled {
			return false
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// Acquire returns the live session if Connected, or (nil, false)
// otherwise. Callers must treat a false result as transient and simply
// skip the current iteration of whatever loop they're in — the
// background connect/reconnect loop is what drives State back to
// Connected.
func (c *Connection) Acquire() (sdkiface.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == Connected && c.session != nil {
		return c.session, true
	}
	return nil, false
}

// ReportError classifies err and reacts: authentication-class errors
// disable the connection permanently; transient/network-class errors
// schedule a reconnect; a cancellation disconnects; every other kind
// leaves the connection state alone and is not logged here (the caller's
// own recovery policy, e.g. a sleep, still applies).
func (c *Connection) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	kind := sdkiface.KindOf(err)
	switch kind {
	case sdkiface.KindAuthentication, sdkiface.KindPermission, sdkiface.KindAccountSuspended:
		c.disable(ctx, err)
	case sdkiface.KindDDoSProtection, sdkiface.KindOnMaintenance, sdkiface.KindExchangeNotAvailable,
		sdkiface.KindRequestTimeout, sdkiface.KindNetwork, sdkiface.KindRateLimitExceeded:
		c.scheduleReconnect()
	case sdkiface.KindCancelled:
		c.disconnect("cancelled")
	default:
		// Not a connection-lifecycle error; leave state alone.
	}
}

func (c *Connection) scheduleReconnect() {
	select {
	case c.streamFaultCh <- struct{}{}:
	default:
	}
	c.disconnect("stream fault")
}

func (c *Connection) disconnect(reason string) {
	c.mu.Lock()
	if c.state == Disabled {
		c.mu.Unlock()
		return
	}
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	c.setState(Disconnected, reason)
}

func (c *Connection) disable(ctx context.Context, err error) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	c.setState(Disabled, err.Error())
	c.log.Error().Err(err).Msg("connection disabled, will not reconnect")
}

// connectLoop drives repeated connection attempts until Disabled or Stop.
func (c *Connection) connectLoop(ctx context.Context) {
	attempt := 0
	for {
		c.mu.RLock()
		stopped := c.stopped
		state := c.state
		c.mu.RUnlock()
		if stopped || state == Disabled {
			return
		}

		ok := c.tryConnect(ctx)
		if ok {
			attempt = 0
			go c.shutdownWatcher(ctx)
			c.waitForFaultOrStop(ctx)
			attempt++
			continue
		}

		c.mu.RLock()
		disabled := c.state == Disabled
		c.mu.RUnlock()
		if disabled {
			return
		}

		delay := reliability.Backoff(baseReconnectDelay, maxReconnectDelay, attempt)
		attempt++
		select {
		case <-time.After(delay):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// waitForFaultOrStop blocks while Connected, returning as soon as a
// stream fault, stop request, or context cancellation occurs.
func (c *Connection) waitForFaultOrStop(ctx context.Context) {
	for {
		c.mu.RLock()
		st := c.state
		ch := c.stateChangedCh
		c.mu.RUnlock()
		if st != Connected {
			return
		}
		select {
		case <-ch:
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tryConnect runs up to retryCountLimit attempts to build a fresh session
// and load markets, classifying failures with per-kind delay overrides.
func (c *Connection) tryConnect(ctx context.Context) bool {
	c.setState(Connecting, "attempting connect")
	for i := 0; i < retryCountLimit; i++ {
		select {
		case <-c.stopCh:
			c.setState(Disconnected, "stopped while connecting")
			return false
		case <-ctx.Done():
			return false
		default:
		}

		sess, err := c.factory(ctx)
		if err != nil {
			if c.handleConnectError(ctx, err, i) {
				return false
			}
			continue
		}

		loadCtx, cancel := context.WithTimeout(ctx, loadMarketsTimeout)
		_, err = sess.LoadMarkets(loadCtx)
		cancel()
		if err != nil {
			_ = sess.Close()
			if c.handleConnectError(ctx, err, i) {
				return false
			}
			continue
		}

		c.mu.Lock()
		c.session = sess
		c.mu.Unlock()
		c.setState(Connected, "connected")
		return true
	}
	c.setState(Disconnected, "retry count exhausted")
	return false
}

// handleConnectError applies the per-error-kind delay override and
// reports whether the connection attempt loop should abort entirely
// (true for authentication-class failures, which move to Disabled).
func (c *Connection) handleConnectError(ctx context.Context, err error, attempt int) bool {
	kind := sdkiface.KindOf(err)
	switch kind {
	case sdkiface.KindAuthentication, sdkiface.KindPermission, sdkiface.KindAccountSuspended:
		c.disable(ctx, err)
		return true
	case sdkiface.KindDDoSProtection:
		c.sleep(ctx, retryAfterOr(err, baseReconnectDelay*3))
	case sdkiface.KindOnMaintenance:
		c.sleep(ctx, 300*time.Second)
	case sdkiface.KindRateLimitExceeded:
		c.sleep(ctx, retryAfterOr(err, baseReconnectDelay*2))
	case sdkiface.KindCancelled:
		return true
	default:
		delay := reliability.Backoff(baseReconnectDelay, maxReconnectDelay, attempt)
		c.sleep(ctx, delay)
	}
	return false
}

func retryAfterOr(err error, fallback time.Duration) time.Duration {
	var sdkErr *sdkiface.Error
	if errors.As(err, &sdkErr) && sdkErr.RetryAfter > 0 {
		return time.Duration(sdkErr.RetryAfter * float64(time.Second))
	}
	return fallback
}

func (c *Connection) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

// shutdownWatcher races a stream fault, a stop request and a 24h session
// rotation timeout against each other; whichever fires first wins and the
// others are simply abandoned (the losing goroutines, if any, exit on
// their own via ctx/stopCh).
func (c *Connection) shutdownWatcher(ctx context.Context) {
	timer := time.NewTimer(shutdownRotation)
	defer timer.Stop()

	select {
	case <-c.streamFaultCh:
		// disconnect() was already called by ReportError; the connect
		// loop will pick this up and reconnect.
	case <-c.stopCh:
		c.disconnect("stop requested")
	case <-timer.C:
		c.disconnect("24h session rotation")
	case <-ctx.Done():
	}
}
