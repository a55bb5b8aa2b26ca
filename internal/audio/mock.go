package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/voicebooth/internal/device"
)

// MinMockCapture is the shortest capture a MockCapture produces when no
// fixed data was configured.
const MinMockCapture = 100 * time.Millisecond

// StreamState represents the state of a mock stream.
type StreamState int32

const (
	StateStopped StreamState = iota
	StatePlaying
	StatePaused
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MockCallbacks provides hooks for testing. Hooks run synchronously on the
// caller's goroutine, so a test may block in them to hold an operation at a
// suspension point.
type MockCallbacks struct {
	OnRoute     func(mode device.Mode)
	OnNewStream func(pcm []byte)
	OnOpen      func()
	OnProbe     func()
}

// NewMockBackend creates a backend that simulates audio without hardware.
func NewMockBackend() *Backend {
	return &Backend{
		Name:    "mock",
		Router:  NewMockRouter(),
		Output:  NewMockOutput(),
		Capture: NewMockCapture(),
	}
}

// MockRouter records every route request.
type MockRouter struct {
	mu        sync.Mutex
	calls     []device.Mode
	errs      map[device.Mode]error
	callbacks MockCallbacks
}

// NewMockRouter creates a router that accepts every route.
func NewMockRouter() *MockRouter {
	return &MockRouter{errs: make(map[device.Mode]error)}
}

// SetCallbacks replaces the router hooks.
func (r *MockRouter) SetCallbacks(cb MockCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = cb
}

// SetErr makes routing to mode fail with err. A nil err clears it.
func (r *MockRouter) SetErr(mode device.Mode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, mode)
		return
	}
	r.errs[mode] = err
}

// Route implements device.Router.
func (r *MockRouter) Route(ctx context.Context, mode device.Mode) error {
	r.mu.Lock()
	cb := r.callbacks.OnRoute
	r.calls = append(r.calls, mode)
	err := r.errs[mode]
	r.mu.Unlock()

	if cb != nil {
		cb(mode)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Calls returns the routes requested so far.
func (r *MockRouter) Calls() []device.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Mode, len(r.calls))
	copy(out, r.calls)
	return out
}

// MockOutput creates MockStreams.
type MockOutput struct {
	mu           sync.Mutex
	newStreamErr error
	manualFinish bool
	delayFactor  float64
	callbacks    MockCallbacks
	streams      []*MockStream
}

// NewMockOutput creates an output whose streams finish after their
// simulated duration.
func NewMockOutput() *MockOutput {
	return &MockOutput{delayFactor: 1.0}
}

// SetCallbacks replaces the output hooks.
func (o *MockOutput) SetCallbacks(cb MockCallbacks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = cb
}

// SetNewStreamErr makes NewStream fail with err. A nil err clears it.
func (o *MockOutput) SetNewStreamErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.newStreamErr = err
}

// SetManualFinish makes new streams play until Finish is called.
func (o *MockOutput) SetManualFinish(manual bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.manualFinish = manual
}

// SetDelayFactor scales the simulated duration of new streams.
// 1.0 is real time, 0.1 is ten times faster.
func (o *MockOutput) SetDelayFactor(factor float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delayFactor = factor
}

// NewStream implements Output.
func (o *MockOutput) NewStream(pcm []byte) (Stream, error) {
	o.mu.Lock()
	cb := o.callbacks.OnNewStream
	o.mu.Unlock()

	if cb != nil {
		cb(pcm)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.newStreamErr != nil {
		return nil, o.newStreamErr
	}
	if err := ValidatePCM(pcm); err != nil {
		return nil, err
	}

	d := time.Duration(float64(Duration(pcm)) * o.delayFactor)
	s := newMockStream(d, o.manualFinish)
	o.streams = append(o.streams, s)
	return s, nil
}

// Streams returns every stream created so far.
func (o *MockOutput) Streams() []*MockStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*MockStream, len(o.streams))
	copy(out, o.streams)
	return out
}

// Last returns the most recently created stream, or nil.
func (o *MockOutput) Last() *MockStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}

// MockStream simulates playback of a fixed duration.
type MockStream struct {
	mu        sync.Mutex
	state     StreamState
	duration  time.Duration
	position  time.Duration
	lastStart time.Time
	timer     *time.Timer
	manual    bool

	done     chan struct{}
	doneOnce sync.Once

	playCount  atomic.Int64
	pauseCount atomic.Int64
}

func newMockStream(d time.Duration, manual bool) *MockStream {
	return &MockStream{
		duration: d,
		manual:   manual,
		done:     make(chan struct{}),
	}
}

// Play starts or resumes the simulated playback.
func (s *MockStream) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying || s.state == StateClosed || s.finished() {
		return
	}
	s.state = StatePlaying
	s.lastStart = time.Now()
	s.playCount.Add(1)

	if !s.manual {
		remaining := s.duration - s.position
		if remaining < 0 {
			remaining = 0
		}
		s.timer = time.AfterFunc(remaining, s.Finish)
	}
}

// Pause freezes the simulated position.
func (s *MockStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return
	}
	s.position += time.Since(s.lastStart)
	s.stopTimer()
	s.state = StatePaused
	s.pauseCount.Add(1)
}

// IsPlaying implements Stream.
func (s *MockStream) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePlaying
}

// Done implements Stream.
func (s *MockStream) Done() <-chan struct{} {
	return s.done
}

// Finish ends the stream as if it reached the end of its data. It has no
// effect on a paused or closed stream.
func (s *MockStream) Finish() {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.position = s.duration
	s.state = StateStopped
	s.stopTimer()
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
}

// Close stops the stream without signalling completion.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.stopTimer()
	s.state = StateClosed
	return nil
}

// State returns the current stream state.
func (s *MockStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration returns the simulated duration.
func (s *MockStream) Duration() time.Duration {
	return s.duration
}

// PlayCount returns how many times playback was started or resumed.
func (s *MockStream) PlayCount() int64 {
	return s.playCount.Load()
}

// PauseCount returns how many times playback was paused.
func (s *MockStream) PauseCount() int64 {
	return s.pauseCount.Load()
}

func (s *MockStream) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *MockStream) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// MockCapture simulates a microphone.
type MockCapture struct {
	mu        sync.Mutex
	hasDevice bool
	probeErr  error
	openErr   error
	startErr  error
	stopErr   error
	data      []byte
	dataSet   bool
	callbacks MockCallbacks

	probes atomic.Int64
	opens  atomic.Int64
	active atomic.Int64
}

// NewMockCapture creates a capture with an available input device.
func NewMockCapture() *MockCapture {
	return &MockCapture{hasDevice: true}
}

// SetCallbacks replaces the capture hooks.
func (c *MockCapture) SetCallbacks(cb MockCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// SetHasDevice controls the result of HasInputDevice.
func (c *MockCapture) SetHasDevice(has bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasDevice = has
	c.probeErr = err
}

// SetErrors configures failures for Open, Start and Stop.
func (c *MockCapture) SetErrors(open, start, stop error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = open
	c.startErr = start
	c.stopErr = stop
}

// SetData fixes the PCM returned by Stop. An empty slice makes every
// capture come back empty.
func (c *MockCapture) SetData(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append([]byte{}, pcm...)
	c.dataSet = true
}

// HasInputDevice implements Capture.
func (c *MockCapture) HasInputDevice(ctx context.Context) (bool, error) {
	c.probes.Add(1)
	c.mu.Lock()
	cb := c.callbacks.OnProbe
	has, err := c.hasDevice, c.probeErr
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return has, err
}

// Open implements Capture.
func (c *MockCapture) Open(ctx context.Context) (CaptureStream, error) {
	c.opens.Add(1)
	c.mu.Lock()
	cb := c.callbacks.OnOpen
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &mockCaptureStream{capture: c}, nil
}

// Probes returns how many times HasInputDevice was called.
func (c *MockCapture) Probes() int64 {
	return c.probes.Load()
}

// Opens returns how many times Open was called.
func (c *MockCapture) Opens() int64 {
	return c.opens.Load()
}

// Active returns the number of started, not yet stopped streams.
func (c *MockCapture) Active() int64 {
	return c.active.Load()
}

type mockCaptureStream struct {
	capture *MockCapture
	mu      sync.Mutex
	started time.Time
	running bool
	stopped bool
}

func (s *mockCaptureStream) Start() error {
	s.capture.mu.Lock()
	err := s.capture.startErr
	s.capture.mu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return ErrStreamClosed
	}
	s.running = true
	s.started = time.Now()
	s.capture.active.Add(1)
	return nil
}

func (s *mockCaptureStream) Stop() ([]byte, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.stopped = true
	elapsed := time.Since(s.started)
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		s.capture.active.Add(-1)
	}

	s.capture.mu.Lock()
	err := s.capture.stopErr
	data, fixed := s.capture.data, s.capture.dataSet
	s.capture.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fixed {
		return append([]byte{}, data...), nil
	}
	if elapsed < MinMockCapture {
		elapsed = MinMockCapture
	}
	return GenerateTone(elapsed, 440), nil
}
