package p2pws

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/otiai10/p2pws/cache"
	"github.com/otiai10/p2pws/emitter"
	"github.com/otiai10/p2pws/quake"
)

// session owns one physical connection attempt: it dials, announces
// readiness, then loops reading frames until the connection ends.
//
// Frames are handled strictly one at a time: the raw publication, the
// routing and the typed publication for a frame all complete before the
// next read, so listeners observe frames in receipt order and a slow
// listener backpressures the socket.
type session struct {
	dialer Dialer
	bus    *emitter.Bus
	cache  cache.Store
	logger zerolog.Logger

	state atomic.Int32
}

func newSession(dialer Dialer, bus *emitter.Bus, store cache.Store, logger zerolog.Logger) *session {
	if store == nil {
		store = cache.Discard{}
	}
	return &session{dialer: dialer, bus: bus, cache: store, logger: logger}
}

// State returns the current connection state.
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// run drives one session from handshake to disconnect and reports how
// it ended. The "closed" event fires exactly once per session that got
// far enough to disconnect; transport failures fire "error" instead.
func (s *session) run(ctx context.Context, url string) Termination {
	s.setState(StateConnecting)
	defer s.setState(StateDisconnected)

	s.logger.Debug().Str("url", url).Msg("connecting")
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer conn.Close()

	// Unblock the read below when the caller cancels.
	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchdog:
		}
	}()

	s.setState(StateReady)
	s.logger.Debug().Str("url", url).Msg("connected")
	if err := s.bus.Emit(ctx, EventReady); err != nil {
		return s.fail(ctx, err)
	}

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return s.disconnected(ctx, err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if term, failed := s.handleFrame(ctx, frame); failed {
			return term
		}
	}
}

// handleFrame dispatches one frame. The raw event always fires first;
// a typed event follows only for recognized codes. A listener error
// aborts the session as a transport failure.
func (s *session) handleFrame(ctx context.Context, frame []byte) (Termination, bool) {
	if err := s.bus.Emit(ctx, EventRawMessage, string(frame)); err != nil {
		return s.fail(ctx, err), true
	}

	routed, err := quake.Route(frame)
	if err != nil {
		// Malformed frames are dropped, never surfaced as transport
		// failures.
		s.logger.Debug().Err(err).Msg("dropping frame")
		return Termination{}, false
	}
	if routed == nil {
		s.logger.Debug().Msg("ignoring frame with unrecognized code")
		return Termination{}, false
	}

	if err := s.bus.Emit(ctx, routed.Event, routed.Payload); err != nil {
		return s.fail(ctx, err), true
	}
	s.cache.Put(routed.ID, routed.Payload)
	return Termination{}, false
}

// disconnected classifies a read error and publishes "closed" for
// close-type terminations (clean or not).
func (s *session) disconnected(ctx context.Context, err error) Termination {
	s.setState(StateClosing)

	if ctx.Err() != nil {
		// Cancellation closed the socket under the reader. Tear down in
		// order: the caller stops regardless of the kind reported here.
		s.emitClosed()
		return Termination{Kind: TerminationAbnormalClose, Cause: ctx.Err()}
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		s.emitClosed()
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			s.logger.Debug().Msg("connection closed normally")
			return Termination{Kind: TerminationNormalClose}
		default:
			s.logger.Debug().Err(err).Msg("connection closed abnormally")
			return Termination{Kind: TerminationAbnormalClose, Cause: err}
		}
	}

	return s.fail(ctx, err)
}

// fail publishes "error" with the cause and reports a transport failure.
func (s *session) fail(ctx context.Context, cause error) Termination {
	s.setState(StateClosing)
	s.logger.Debug().Err(cause).Msg("session failed")
	// The error listener runs on the failure path; its own error cannot
	// displace the primary cause, so it is only logged.
	if err := s.bus.Emit(context.WithoutCancel(ctx), EventError, cause); err != nil {
		s.logger.Warn().Err(err).Msg("error listener failed")
	}
	return Termination{Kind: TerminationTransportError, Cause: cause}
}

// emitClosed publishes "closed", tolerating listener errors: teardown
// has already begun and the termination kind is decided.
func (s *session) emitClosed() {
	if err := s.bus.Emit(context.Background(), EventClosed); err != nil {
		s.logger.Warn().Err(err).Msg("closed listener failed")
	}
}
