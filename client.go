// Package p2pws implements a client for the P2P地震情報 (P2PQuake)
// realtime WebSocket API.
//
// The client keeps a persistent connection to the push service,
// reconnects automatically after failures, decodes the typed messages
// (earthquake reports, tsunami forecasts, EEW broadcasts) and delivers
// them to registered listeners:
//
//	client, err := p2pws.New(p2pws.Options{Sandbox: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//	client.OnEarthquake(func(ctx context.Context, report *quake.EarthquakeReport) error {
//		fmt.Println(report.Earthquake.Hypocenter.Name)
//		return nil
//	})
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Each event carries at most one listener and dispatch is sequential:
// the next frame is not read until the listeners for the previous one
// returned. A listener that blocks forever therefore stalls the client;
// a listener that returns an error aborts the session and counts as a
// failed connection attempt.
package p2pws

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/otiai10/p2pws/cache"
	"github.com/otiai10/p2pws/emitter"
	"github.com/otiai10/p2pws/quake"
)

// Lifecycle event names. Typed message events live in package quake.
const (
	EventReady      emitter.Event = "ready"
	EventRawMessage emitter.Event = "rawmessage"
	EventError      emitter.Event = "error"
	EventClosed     emitter.Event = "closed"
)

// Default retry policy, matching the original client.
const (
	DefaultBackoff = 5 * time.Second
	defaultRetries = 10
)

// Options configures a Client. All fields are read at construction only.
type Options struct {
	// Debug enables debug-level logging.
	Debug bool

	// Sandbox connects to the sandbox endpoint instead of production.
	Sandbox bool

	// Endpoint overrides the endpoint resolution entirely. When set,
	// Sandbox is ignored.
	Endpoint EndpointResolver

	// Backoff is the fixed delay between reconnect attempts.
	// Defaults to DefaultBackoff.
	Backoff time.Duration

	// Retry bounds reconnect attempts. The zero value is NOT unbounded:
	// it defaults to MaxAttempts(10) like the original client. Pass
	// Unbounded() explicitly to never give up.
	Retry RetryLimit

	// Cache receives every decoded message via Put(id, message).
	// Defaults to a bounded in-memory LRU.
	Cache cache.Store

	// Dialer overrides the transport, mainly for tests.
	Dialer Dialer

	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// Client is the P2P地震情報 realtime client. Construct with New,
// register listeners, then call Start.
type Client struct {
	bus     *emitter.Bus
	session *session
	sv      *supervisor
	logger  zerolog.Logger
}

// New creates a Client from opts.
func New(opts Options) (*Client, error) {
	logger := clientLogger(opts)

	resolve := opts.Endpoint
	if resolve == nil {
		if opts.Sandbox {
			resolve = StaticEndpoint(SandboxEndpoint)
		} else {
			resolve = StaticEndpoint(ProductionEndpoint)
		}
	}

	delay := opts.Backoff
	if delay < 0 {
		return nil, fmt.Errorf("%w: negative backoff %v", ErrInvalidOptions, delay)
	}
	if delay == 0 {
		delay = DefaultBackoff
	}

	limit := opts.Retry
	if limit.mode == retryDefault {
		limit = MaxAttempts(defaultRetries)
	}

	store := opts.Cache
	if store == nil {
		lru, err := cache.NewLRU(cache.DefaultSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		store = lru
	}

	var dialer Dialer = newWSDialer()
	if opts.Dialer != nil {
		dialer = opts.Dialer
	}

	bus := emitter.New(logger)
	sess := newSession(dialer, bus, store, logger)
	sv := &supervisor{
		resolve: resolve,
		limit:   limit,
		delay:   backoff.NewConstantBackOff(delay),
		session: sess,
		logger:  logger,
	}
	return &Client{bus: bus, session: sess, sv: sv, logger: logger}, nil
}

func clientLogger(opts Options) zerolog.Logger {
	if opts.Logger != nil {
		return *opts.Logger
	}
	level := zerolog.WarnLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", "p2pws").
		Logger()
}

// Start connects and blocks until the server closes the connection
// cleanly (returns nil), ctx is cancelled (returns ctx.Err()), or the
// retry limit is exhausted (returns an error wrapping
// ErrRetriesExhausted).
func (c *Client) Start(ctx context.Context) error {
	return c.sv.run(ctx)
}

// State returns the connection state of the current session.
func (c *Client) State() State {
	return c.session.State()
}

// On registers an untyped listener for name, replacing any previous one.
func (c *Client) On(name emitter.Event, h emitter.Handler) error {
	return c.bus.On(name, h)
}

// Off removes the listener for name.
func (c *Client) Off(name emitter.Event) {
	c.bus.Off(name)
}

// OnReady registers the listener invoked after each successful handshake.
func (c *Client) OnReady(fn func(ctx context.Context) error) error {
	return emitter.On0(c.bus, EventReady, fn)
}

// OnRawMessage registers the listener for every inbound frame, decodable
// or not. It always fires before the typed listener for the same frame.
func (c *Client) OnRawMessage(fn func(ctx context.Context, frame string) error) error {
	return emitter.On1(c.bus, EventRawMessage, fn)
}

// OnEarthquake registers the listener for earthquake reports (code 551).
func (c *Client) OnEarthquake(fn func(ctx context.Context, report *quake.EarthquakeReport) error) error {
	return emitter.On1(c.bus, quake.EventEarthquake, fn)
}

// OnTsunami registers the listener for tsunami forecasts (code 552).
func (c *Client) OnTsunami(fn func(ctx context.Context, tsunami *quake.Tsunami) error) error {
	return emitter.On1(c.bus, quake.EventTsunami, fn)
}

// OnEEW registers the listener for EEW broadcasts (code 556).
func (c *Client) OnEEW(fn func(ctx context.Context, eew *quake.EEW) error) error {
	return emitter.On1(c.bus, quake.EventEEW, fn)
}

// OnError registers the listener for transport failures. It fires before
// the failure feeds into the retry policy.
func (c *Client) OnError(fn func(ctx context.Context, cause error) error) error {
	return emitter.On1(c.bus, EventError, fn)
}

// OnClosed registers the listener invoked once per disconnected session,
// whether the close was clean or not.
func (c *Client) OnClosed(fn func(ctx context.Context) error) error {
	return emitter.On0(c.bus, EventClosed, fn)
}
