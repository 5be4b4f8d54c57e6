package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/consult-live/observe"
	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

// fakeDevice is a PlaybackDevice with a manual clock. Buffers never end on
// their own; tests finish them explicitly.
type fakeDevice struct {
	rate int

	mu     sync.Mutex
	now    float64
	plays  []*fakePlay
	closed int
}

type fakePlay struct {
	samples []float32
	at      float64
	onEnded func()
	stopped bool
}

func newFakeDevice(rate int) *fakeDevice { return &fakeDevice{rate: rate} }

func (d *fakeDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) SampleRate() int { return d.rate }

func (d *fakeDevice) Play(samples []float32, at float64, onEnded func()) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		return nil, errors.New("device closed")
	}
	p := &fakePlay{samples: samples, at: at, onEnded: onEnded}
	d.plays = append(d.plays, p)
	return func() {
		d.mu.Lock()
		p.stopped = true
		d.mu.Unlock()
	}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) setNow(t float64) {
	d.mu.Lock()
	d.now = t
	d.mu.Unlock()
}

// finish fires the natural completion of play i unless it was stopped.
func (d *fakeDevice) finish(i int) {
	d.mu.Lock()
	p := d.plays[i]
	stopped := p.stopped
	d.mu.Unlock()
	if !stopped {
		p.onEnded()
	}
}

// fireStale calls the completion of play i even if it was stopped.
func (d *fakeDevice) fireStale(i int) {
	d.mu.Lock()
	p := d.plays[i]
	d.mu.Unlock()
	p.onEnded()
}

func (d *fakeDevice) snapshot() []fakePlay {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]fakePlay, len(d.plays))
	for i, p := range d.plays {
		out[i] = *p
	}
	return out
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeCapture struct {
	rate int

	mu      sync.Mutex
	onFrame func([]float32)
	closed  int
}

func (c *fakeCapture) Start(onFrame func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = onFrame
	return nil
}

func (c *fakeCapture) SampleRate() int { return c.rate }

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// emit delivers one frame the way the capture goroutine would.
func (c *fakeCapture) emit(samples []float32) {
	c.mu.Lock()
	f := c.onFrame
	c.mu.Unlock()
	if f != nil {
		f(samples)
	}
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recvResult struct {
	msg ServerMessage
	err error
}

type fakeConn struct {
	sent    chan tools.Blob
	inbound chan recvResult
	closed  chan struct{}

	mu        sync.Mutex
	sendErr   error
	closeOnce sync.Once
	closes    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:    make(chan tools.Blob, 256),
		inbound: make(chan recvResult, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(ctx context.Context, blob tools.Blob) error {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.sent <- blob:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Recv(ctx context.Context) (ServerMessage, error) {
	select {
	case r := <-c.inbound:
		return r.msg, r.err
	case <-c.closed:
		return ServerMessage{}, errors.New("use of closed connection")
	case <-ctx.Done():
		return ServerMessage{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(msg ServerMessage) { c.inbound <- recvResult{msg: msg} }

func (c *fakeConn) fail(err error) { c.inbound <- recvResult{err: err} }

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeTransport struct {
	formats AudioFormats
	conn    *fakeConn
	// connect overrides the default of returning conn.
	connect func(ctx context.Context, setup Setup) (Conn, error)

	mu     sync.Mutex
	setups []Setup
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		formats: AudioFormats{InputRate: 16000, OutputRate: 24000},
		conn:    newFakeConn(),
	}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Formats() AudioFormats { return t.formats }

func (t *fakeTransport) Connect(ctx context.Context, setup Setup) (Conn, error) {
	t.mu.Lock()
	t.setups = append(t.setups, setup)
	t.mu.Unlock()
	if t.connect != nil {
		return t.connect(ctx, setup)
	}
	return t.conn, nil
}

func (t *fakeTransport) lastSetup() Setup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setups[len(t.setups)-1]
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 1)} }

func (r *recorder) HandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofKind(k EventKind) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) states() []State {
	var out []State
	for _, e := range r.ofKind(EventStateChanged) {
		out = append(out, e.State)
	}
	return out
}

// waitFor blocks until an event matching pred was recorded.
func (r *recorder) waitFor(t *testing.T, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, e := range r.all() {
			if pred(e) {
				return e
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for event; got %v", r.all())
		}
	}
}

func kindIs(k EventKind) func(Event) bool {
	return func(e Event) bool { return e.Kind == k }
}

type harness struct {
	transport *fakeTransport
	capture   *fakeCapture
	device    *fakeDevice
	media     MediaSourceFunc
	output    OutputSourceFunc
	manager   *Manager
	events    *recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		capture:   &fakeCapture{rate: 16000},
		device:    newFakeDevice(24000),
		events:    newRecorder(),
	}
	h.media = func(ctx context.Context, req MediaRequest) (CaptureDevice, error) {
		return h.capture, nil
	}
	h.output = func(ctx context.Context, rate int) (PlaybackDevice, error) {
		return h.device, nil
	}
	base := []Option{
		WithLogger(shared.NewNopLogger()),
		WithMetrics(testMetrics(t)),
	}
	m, err := NewManager(h.transport, h.media, h.output, append(base, opts...)...)
	require.NoError(t, err)
	h.manager = m
	return h
}

func (h *harness) start(t *testing.T) *Session {
	t.Helper()
	s, err := h.manager.Start(context.Background(), CallConfig{Persona: testPersona}, h.events)
	require.NoError(t, err)
	t.Cleanup(s.End)
	return s
}

var testPersona = Persona{Name: "Sarah Jenkins", Title: "Senior Education Consultant", Category: "Study Abroad"}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

// pcmChunk is an encoded chunk of n samples at rate.
func pcmChunk(n, rate int) tools.Blob {
	return tools.CreateBlob(make([]float32, n), rate)
}
