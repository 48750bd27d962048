package p2pws

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// RetryLimit bounds how many failed sessions the supervisor tolerates.
// "Unbounded" is an explicit state rather than a nil or zero sentinel;
// the zero value defers to the client default (see Options.Retry).
type RetryLimit struct {
	n    uint
	mode retryMode
}

type retryMode int

const (
	retryDefault retryMode = iota
	retryUnbounded
	retryBounded
)

// Unbounded returns a limit that never gives up.
func Unbounded() RetryLimit {
	return RetryLimit{mode: retryUnbounded}
}

// MaxAttempts returns a limit that gives up after n failed sessions.
func MaxAttempts(n uint) RetryLimit {
	return RetryLimit{n: n, mode: retryBounded}
}

// Exhausted reports whether attempts has reached the limit.
func (l RetryLimit) Exhausted(attempts uint) bool {
	return l.mode == retryBounded && attempts >= l.n
}

// String returns the string representation of the RetryLimit.
func (l RetryLimit) String() string {
	switch l.mode {
	case retryUnbounded:
		return "unbounded"
	case retryBounded:
		return fmt.Sprintf("max %d attempts", l.n)
	default:
		return "default"
	}
}

// supervisor owns the client lifetime across sessions: it runs one
// session at a time and decides, from how the session ended, whether to
// wait and reconnect or to stop.
type supervisor struct {
	resolve EndpointResolver
	limit   RetryLimit
	delay   backoff.BackOff
	session *session
	logger  zerolog.Logger

	// attempts counts failed sessions. It is never reset within one
	// run: a client that keeps failing eventually exhausts a bounded
	// limit even if some sessions succeeded in between.
	attempts uint
}

// run loops sessions until a clean close, cancellation, or exhaustion.
//
// A normal close is final: the server said goodbye and the client does
// not second-guess it. Everything else counts as a failed attempt and
// is retried after a fixed delay.
func (sv *supervisor) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		url := sv.resolve()
		term := sv.session.run(ctx, url)

		if term.Kind == TerminationNormalClose {
			sv.logger.Debug().Msg("session closed normally, not reconnecting")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sv.attempts++
		if sv.limit.Exhausted(sv.attempts) {
			sv.logger.Warn().
				Uint("attempts", sv.attempts).
				Str("termination", term.String()).
				Msg("giving up on reconnecting")
			if term.Cause != nil {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, sv.attempts, term.Cause)
			}
			return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, sv.attempts)
		}

		wait := sv.delay.NextBackOff()
		sv.logger.Debug().
			Uint("attempts", sv.attempts).
			Dur("wait", wait).
			Str("termination", term.String()).
			Msg("reconnecting after delay")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
