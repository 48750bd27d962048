package quake

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/otiai10/p2pws/emitter"
)

// ErrMalformedFrame reports a frame that could not be decoded.
// Callers are expected to drop the frame, not to treat this as a
// transport failure.
var ErrMalformedFrame = errors.New("quake: malformed frame")

// Routed is the outcome of routing one decodable, recognized frame.
type Routed struct {
	// Event is the typed event to publish for this frame.
	Event emitter.Event
	// Payload is the decoded message (*EarthquakeReport, *Tsunami or *EEW).
	Payload any
	// ID is the upstream message id, used as the cache key.
	ID string
}

// Route decodes frame and maps its code discriminant to a typed event.
//
// It returns (nil, nil) for frames whose code is not recognized: new
// upstream message kinds must not break the client, so unknown codes
// produce no event. A frame that cannot be decoded returns an error
// wrapping ErrMalformedFrame.
func Route(frame []byte) (*Routed, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Code {
	case CodeEarthquake:
		var report EarthquakeReport
		if err := json.Unmarshal(frame, &report); err != nil {
			return nil, fmt.Errorf("%w: code %d: %v", ErrMalformedFrame, env.Code, err)
		}
		return &Routed{Event: EventEarthquake, Payload: &report, ID: report.ID}, nil

	case CodeTsunami:
		var tsunami Tsunami
		if err := json.Unmarshal(frame, &tsunami); err != nil {
			return nil, fmt.Errorf("%w: code %d: %v", ErrMalformedFrame, env.Code, err)
		}
		return &Routed{Event: EventTsunami, Payload: &tsunami, ID: tsunami.ID}, nil

	case CodeEEW:
		var eew EEW
		if err := json.Unmarshal(frame, &eew); err != nil {
			return nil, fmt.Errorf("%w: code %d: %v", ErrMalformedFrame, env.Code, err)
		}
		return &Routed{Event: EventEEW, Payload: &eew, ID: eew.ID}, nil
	}

	return nil, nil
}
