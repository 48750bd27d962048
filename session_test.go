package p2pws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/otiai10/p2pws/cache"
	"github.com/otiai10/p2pws/emitter"
	"github.com/otiai10/p2pws/quake"
)

const (
	quakeFrame = `{"_id": "quake-001", "code": 551, "time": "2024/01/15 12:34:56",
		"issue": {"source": "tenkijp", "time": "2024/01/15 12:35:00", "type": "DetailScale"},
		"earthquake": {"time": "2024/01/15 12:34:00", "maxScale": 40, "domesticTsunami": "None",
			"hypocenter": {"name": "石川県能登地方", "latitude": 37.5, "longitude": 137.2, "depth": 10, "magnitude": 5.2}}}`

	unknownFrame = `{"_id": "peer-001", "code": 999, "time": "2024/01/15 12:36:00"}`

	tsunamiFrame = `{"_id": "tsunami-001", "code": 552, "time": "2024/01/15 13:00:00", "cancelled": true,
		"issue": {"source": "気象庁", "time": "2024/01/15 13:00:00", "type": "Focus"}}`
)

// scriptFrame is one scripted WebSocket message.
type scriptFrame struct {
	messageType int
	data        []byte
}

func textFrame(s string) scriptFrame {
	return scriptFrame{messageType: websocket.TextMessage, data: []byte(s)}
}

func binaryFrame(b []byte) scriptFrame {
	return scriptFrame{messageType: websocket.BinaryMessage, data: b}
}

// scriptConn replays frames and then fails with a scripted error.
// A nil final error blocks until Close, like a quiet live connection.
type scriptConn struct {
	mu     sync.Mutex
	frames []scriptFrame
	idx    int
	final  error

	done      chan struct{}
	closeOnce sync.Once
}

func newScriptConn(final error, frames ...string) *scriptConn {
	c := &scriptConn{final: final, done: make(chan struct{})}
	for _, f := range frames {
		c.frames = append(c.frames, textFrame(f))
	}
	return c
}

func newScriptConnFrames(final error, frames ...scriptFrame) *scriptConn {
	return &scriptConn{final: final, done: make(chan struct{}), frames: frames}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.done:
		return 0, nil, net.ErrClosed
	default:
	}

	c.mu.Lock()
	if c.idx < len(c.frames) {
		frame := c.frames[c.idx]
		c.idx++
		c.mu.Unlock()
		return frame.messageType, frame.data, nil
	}
	final := c.final
	c.mu.Unlock()

	if final == nil {
		<-c.done
		return 0, nil, net.ErrClosed
	}
	return 0, nil, final
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// scriptDialer hands out scripted connections in order, or fails every
// dial with err.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
	dials int
	err   error
}

func (d *scriptDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("script exhausted")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder captures publications in order.
type recorder struct {
	mu       sync.Mutex
	names    []string
	payloads []any
}

func (r *recorder) subscribe(bus *emitter.Bus, names ...emitter.Event) {
	for _, name := range names {
		name := name
		bus.On(name, func(ctx context.Context, args ...any) error {
			var payload any
			if len(args) > 0 {
				payload = args[0]
			}
			r.mu.Lock()
			r.names = append(r.names, string(name))
			r.payloads = append(r.payloads, payload)
			r.mu.Unlock()
			return nil
		})
	}
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recorder) payloadAt(i int) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.payloads) {
		return nil
	}
	return r.payloads[i]
}

func allEvents() []emitter.Event {
	return []emitter.Event{
		EventReady, EventRawMessage, EventError, EventClosed,
		quake.EventEarthquake, quake.EventTsunami, quake.EventEEW,
	}
}

func assertSequence(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}
}

// putRecorder records cache writes.
type putRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (p *putRecorder) Put(id string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func newTestSession(dialer Dialer, store cache.Store) (*session, *emitter.Bus) {
	bus := emitter.New(zerolog.Nop())
	return newSession(dialer, bus, store, zerolog.Nop()), bus
}

func TestSession_EventSequence(t *testing.T) {
	conn := newScriptConn(
		&websocket.CloseError{Code: websocket.CloseNormalClosure},
		quakeFrame, unknownFrame, tsunamiFrame,
	)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	puts := &putRecorder{}
	sess, bus := newTestSession(dialer, puts)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")

	if term.Kind != TerminationNormalClose {
		t.Fatalf("termination = %v, want normal close", term)
	}
	if term.Cause != nil {
		t.Errorf("cause = %v, want nil", term.Cause)
	}

	// Raw fires for every frame, before its typed event; the unknown
	// code yields no typed event; closed fires exactly once.
	assertSequence(t, rec.sequence(), []string{
		"ready",
		"rawmessage", "earthquake",
		"rawmessage",
		"rawmessage", "tsunami",
		"closed",
	})

	if raw, ok := rec.payloadAt(1).(string); !ok || !strings.Contains(raw, `"code": 551`) {
		t.Errorf("raw payload = %#v, want original frame text", rec.payloadAt(1))
	}
	report, ok := rec.payloadAt(2).(*quake.EarthquakeReport)
	if !ok || report.ID != "quake-001" {
		t.Errorf("earthquake payload = %#v", rec.payloadAt(2))
	}
	tsunami, ok := rec.payloadAt(5).(*quake.Tsunami)
	if !ok || !tsunami.Cancelled {
		t.Errorf("tsunami payload = %#v", rec.payloadAt(5))
	}

	puts.mu.Lock()
	defer puts.mu.Unlock()
	if len(puts.ids) != 2 || puts.ids[0] != "quake-001" || puts.ids[1] != "tsunami-001" {
		t.Errorf("cache puts = %v, want [quake-001 tsunami-001]", puts.ids)
	}
}

func TestSession_OrderPreservedWithSlowListener(t *testing.T) {
	frames := make([]string, 0, 5)
	wantIDs := make([]string, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		frames = append(frames, `{"_id": "quake-`+id+`", "code": 551, "time": "2024/01/15 12:00:00"}`)
		wantIDs = append(wantIDs, "quake-"+id)
	}
	conn := newScriptConn(&websocket.CloseError{Code: websocket.CloseNormalClosure}, frames...)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	var gotIDs []string
	emitter.On1(bus, quake.EventEarthquake, func(ctx context.Context, report *quake.EarthquakeReport) error {
		time.Sleep(5 * time.Millisecond) // deliberately slow observer
		gotIDs = append(gotIDs, report.ID)
		return nil
	})

	term := sess.run(context.Background(), "ws://scripted")
	if term.Kind != TerminationNormalClose {
		t.Fatalf("termination = %v, want normal close", term)
	}

	// Dispatch blocks the read loop, so a slow listener still observes
	// frames in receipt order. No synchronization needed on gotIDs: the
	// session has returned.
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("received %d reports, want %d", len(gotIDs), len(wantIDs))
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("order = %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestSession_MalformedFrameDropped(t *testing.T) {
	conn := newScriptConn(
		&websocket.CloseError{Code: websocket.CloseNormalClosure},
		`this is not json`, quakeFrame,
	)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")
	if term.Kind != TerminationNormalClose {
		t.Fatalf("termination = %v, want normal close", term)
	}

	// The malformed frame still produces its raw event, then is dropped
	// without surfacing an error.
	assertSequence(t, rec.sequence(), []string{
		"ready",
		"rawmessage",
		"rawmessage", "earthquake",
		"closed",
	})
}

func TestSession_BinaryFramesSkipped(t *testing.T) {
	conn := newScriptConnFrames(
		&websocket.CloseError{Code: websocket.CloseNormalClosure},
		binaryFrame([]byte{0x01, 0x02, 0x03}),
		textFrame(quakeFrame),
	)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	puts := &putRecorder{}
	sess, bus := newTestSession(dialer, puts)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")
	if term.Kind != TerminationNormalClose {
		t.Fatalf("termination = %v, want normal close", term)
	}

	// The binary frame produces nothing, not even rawmessage.
	assertSequence(t, rec.sequence(), []string{
		"ready",
		"rawmessage", "earthquake",
		"closed",
	})

	puts.mu.Lock()
	defer puts.mu.Unlock()
	if len(puts.ids) != 1 || puts.ids[0] != "quake-001" {
		t.Errorf("cache puts = %v, want [quake-001]", puts.ids)
	}
}

func TestSession_AbnormalClose(t *testing.T) {
	cause := &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "gone"}
	conn := newScriptConn(cause, quakeFrame)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")

	if term.Kind != TerminationAbnormalClose {
		t.Fatalf("termination = %v, want abnormal close", term)
	}
	if !errors.Is(term.Cause, cause) {
		t.Errorf("cause = %v, want %v", term.Cause, cause)
	}
	// An abnormal close still publishes closed, never error.
	assertSequence(t, rec.sequence(), []string{"ready", "rawmessage", "earthquake", "closed"})
}

func TestSession_TransportError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	conn := newScriptConn(cause)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")

	if term.Kind != TerminationTransportError {
		t.Fatalf("termination = %v, want transport error", term)
	}
	if !errors.Is(term.Cause, cause) {
		t.Errorf("cause = %v, want %v", term.Cause, cause)
	}
	// A transport failure publishes error, not closed.
	assertSequence(t, rec.sequence(), []string{"ready", "error"})
	if got, ok := rec.payloadAt(1).(error); !ok || !errors.Is(got, cause) {
		t.Errorf("error payload = %#v, want %v", rec.payloadAt(1), cause)
	}
}

func TestSession_DialFailure(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	dialer := &scriptDialer{err: cause}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), "ws://scripted")

	if term.Kind != TerminationTransportError {
		t.Fatalf("termination = %v, want transport error", term)
	}
	assertSequence(t, rec.sequence(), []string{"error"})
	if sess.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", sess.State())
	}
}

func TestSession_ListenerErrorAbortsSession(t *testing.T) {
	conn := newScriptConn(nil, quakeFrame)
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, EventReady, EventRawMessage, EventError, EventClosed)

	boom := errors.New("observer exploded")
	emitter.On1(bus, quake.EventEarthquake, func(ctx context.Context, report *quake.EarthquakeReport) error {
		return boom
	})

	term := sess.run(context.Background(), "ws://scripted")

	// The faulty observer halts the pipeline: its error is classified
	// as a transport failure and fed to the retry policy.
	if term.Kind != TerminationTransportError {
		t.Fatalf("termination = %v, want transport error", term)
	}
	if !errors.Is(term.Cause, boom) {
		t.Errorf("cause = %v, want %v", term.Cause, boom)
	}
	assertSequence(t, rec.sequence(), []string{"ready", "rawmessage", "error"})
}

func TestSession_ReadyStateDuringSession(t *testing.T) {
	conn := newScriptConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	var stateAtReady State
	emitter.On0(bus, EventReady, func(ctx context.Context) error {
		stateAtReady = sess.State()
		return nil
	})

	sess.run(context.Background(), "ws://scripted")

	if stateAtReady != StateReady {
		t.Errorf("state at ready = %v, want ready", stateAtReady)
	}
	if sess.State() != StateDisconnected {
		t.Errorf("state after run = %v, want disconnected", sess.State())
	}
}

func TestSession_CancelUnblocksRead(t *testing.T) {
	conn := newScriptConn(nil) // blocks after the handshake
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	sess, bus := newTestSession(dialer, nil)

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Termination, 1)
	go func() { done <- sess.run(ctx, "ws://scripted") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case term := <-done:
		if term.Kind == TerminationNormalClose {
			t.Fatalf("termination = %v, cancellation must not look like a clean close", term)
		}
		// Orderly teardown: the session says goodbye before returning.
		assertSequence(t, rec.sequence(), []string{"ready", "closed"})
	case <-time.After(2 * time.Second):
		t.Fatal("session did not return after cancellation")
	}
}

func TestSession_EndToEndWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(quakeFrame))
		conn.WriteMessage(websocket.TextMessage, []byte(tsunamiFrame))
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		// Wait for the client's close response before tearing down.
		conn.ReadMessage()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	bus := emitter.New(zerolog.Nop())
	sess := newSession(newWSDialer(), bus, nil, zerolog.Nop())

	rec := &recorder{}
	rec.subscribe(bus, allEvents()...)

	term := sess.run(context.Background(), url)

	if term.Kind != TerminationNormalClose {
		t.Fatalf("termination = %v, want normal close", term)
	}
	assertSequence(t, rec.sequence(), []string{
		"ready",
		"rawmessage", "earthquake",
		"rawmessage", "tsunami",
		"closed",
	})
}
