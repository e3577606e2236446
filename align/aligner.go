// Package align runs stepwise 2D alignment sweeps of a vector magnet.
//
// A sweep visits every cell of a snake-wise pathway over two axes.  At each
// cell the aligner waits for the device to settle, optionally runs a
// pre-measurement optimizer, takes one measurement and stores it in a data
// matrix.  At the end of the sweep, or when stopped, the device is returned
// to where it was before the sweep began.
//
// Steps run one at a time on a single goroutine per sweep; the state
// machine is Idle -> Running -> (Stopping) -> Idle.
package align

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/vectormagnet/datamatrix"
	"github.com/nasa-jpl/vectormagnet/pathway"
)

const (
	// DefaultPollInterval is the settle polling period
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultSettleTimeout bounds the wait for one move to settle
	DefaultSettleTimeout = 5 * time.Minute
)

var (
	// ErrBusy is returned when a sweep is started while one is running
	ErrBusy = errors.New("an alignment sweep is already running")

	// ErrNothingToContinue is returned by a continue with no unfinished sweep
	ErrNothingToContinue = errors.New("no unfinished sweep to continue")

	// ErrMixedAxes is returned for a sweep over a cartesian and a spherical axis
	ErrMixedAxes = errors.New("swept axes must both be cartesian or both spherical")
)

// Device is the hardware swept by the aligner.  *magnet.Magnet satisfies it.
type Device interface {
	// MoveTo starts an absolute move of the named axes
	MoveTo(map[string]float64) error

	// Pos returns the position of the named axes, all of them if none are named
	Pos(axes ...string) (map[string]float64, error)

	// Status returns whether each named axis is moving, all if none are named
	Status(axes ...string) (map[string]bool, error)

	// Abort stops all motion
	Abort() error
}

// Measurer takes one measurement at the present position
type Measurer interface {
	Measure(ctx context.Context) (float64, map[string]interface{}, error)
}

// MeasureFunc adapts a function to a Measurer
type MeasureFunc func(ctx context.Context) (float64, map[string]interface{}, error)

// Measure calls f
func (f MeasureFunc) Measure(ctx context.Context) (float64, map[string]interface{}, error) {
	return f(ctx)
}

// Optimizer is run before a measurement, e.g. to re-center on a feature
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// OptimizeFunc adapts a function to an Optimizer
type OptimizeFunc func(ctx context.Context) error

// Optimize calls f
func (f OptimizeFunc) Optimize(ctx context.Context) error {
	return f(ctx)
}

// State is the state of the aligner
type State int

const (
	// Idle is not sweeping
	Idle State = iota
	// Running is sweeping
	Running
	// Stopping is finishing a sweep, restoring the device
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state as its String
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the output of MarshalText
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	case "stopping":
		*s = Stopping
	default:
		return fmt.Errorf("unknown sweep state %q", string(b))
	}
	return nil
}

// families group axes that are moved together.  The axes of a family that
// are not swept are held at their pre-sweep value on every move.
var families = [][]string{{"x", "y", "z"}, {"rho", "theta", "phi"}}

func familyOf(axis string) []string {
	for _, f := range families {
		for _, a := range f {
			if a == axis {
				return f
			}
		}
	}
	return nil
}

// Option configures an Aligner
type Option func(*Aligner)

// WithSweep sets the sweep geometry
func WithSweep(s pathway.Sweep) Option {
	return func(a *Aligner) { a.sweep = s }
}

// WithOptimizer sets the pre-measurement optimizer and how often it runs
func WithOptimizer(o Optimizer, freq float64) Option {
	return func(a *Aligner) { a.opt, a.optimizeFreq = o, freq }
}

// WithPollInterval sets the settle polling period
func WithPollInterval(d time.Duration) Option {
	return func(a *Aligner) { a.poll = d }
}

// WithSettleTimeout sets how long a move may take to settle
func WithSettleTimeout(d time.Duration) Option {
	return func(a *Aligner) { a.settleTimeout = d }
}

// WithSink adds an event sink
func WithSink(s Sink) Option {
	return func(a *Aligner) { a.events.addSink(s) }
}

// Aligner is the alignment state machine
type Aligner struct {
	dev    Device
	meas   Measurer
	opt    Optimizer
	events broker

	mu            sync.Mutex
	state         State
	stopReq       bool
	sweep         pathway.Sweep
	optimizeFreq  float64
	poll          time.Duration
	settleTimeout time.Duration

	// the present or last sweep
	runID    string
	runSweep pathway.Sweep
	path     pathway.Pathway
	back     pathway.Backmap
	matrix   *datamatrix.Matrix
	axis0    []float64
	axis1    []float64
	idx      int
	resume   int
	control  map[string]float64
	saved    map[string]float64
	intended []map[string]float64
	reached  []map[string]float64
	errs     []float64
	started  time.Time
	stopped  time.Time
	runStart int // idx at the start of this run, for the ETA
	runTime  time.Time
	done     chan struct{}
}

// New returns an idle Aligner sweeping dev and measuring with meas
func New(dev Device, meas Measurer, opts ...Option) *Aligner {
	a := &Aligner{
		dev:           dev,
		meas:          meas,
		poll:          DefaultPollInterval,
		settleTimeout: DefaultSettleTimeout,
		sweep:         pathway.Sweep{Mode: pathway.SnakeWise},
	}
	for _, o := range opts {
		o(a)
	}
	a.done = make(chan struct{})
	close(a.done)
	return a
}

// Subscribe returns a channel of events and a function to cancel the
// subscription.  buf events are buffered; beyond that events are dropped.
func (a *Aligner) Subscribe(buf int) (<-chan Event, func()) {
	return a.events.subscribe(buf)
}

// Sweep returns the sweep geometry
func (a *Aligner) Sweep() pathway.Sweep {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sweep
}

// SetSweep sets the sweep geometry used by the next fresh start
func (a *Aligner) SetSweep(s pathway.Sweep) error {
	if s.Mode == "" {
		s.Mode = pathway.SnakeWise
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Idle {
		return ErrBusy
	}
	a.sweep = s
	return nil
}

// OptimizeFreq returns the pre-measurement frequency
func (a *Aligner) OptimizeFreq() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.optimizeFreq
}

// SetOptimizeFreq sets how often the optimizer runs.  freq >= 1 runs it
// round(freq) times before every measurement, 0 < freq < 1 every
// round(1/freq)-th step, 0 never.  Negative values are logged as errors
// when the sweep reaches them.
func (a *Aligner) SetOptimizeFreq(freq float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.optimizeFreq = freq
}

// SetPollInterval sets the settle polling period
func (a *Aligner) SetPollInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poll = d
}

// SetSettleTimeout sets how long a move may take to settle
func (a *Aligner) SetSettleTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settleTimeout = d
}

// State returns the state of the aligner
func (a *Aligner) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed when the present sweep has finished.  When idle it is
// already closed.
func (a *Aligner) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Start begins a sweep.  A fresh start builds the pathway and an empty data
// matrix from the sweep geometry; axes the geometry gives no start value for
// are centered on the device's present position.  With continueSweep the
// previous, stopped, sweep resumes at the first cell it did not measure.
//
// Start returns once the sweep goroutine is running; it does not wait for
// the first move.  ctx bounds the sweep; cancelling it stops the sweep as
// Stop does.
func (a *Aligner) Start(ctx context.Context, continueSweep bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Idle {
		return ErrBusy
	}
	if continueSweep && (a.path == nil || a.resume >= len(a.path)) {
		return ErrNothingToContinue
	}

	s := a.sweep
	pos, err := a.dev.Pos()
	if err != nil {
		return fmt.Errorf("reading start position: %w", err)
	}
	if continueSweep {
		s = a.runSweep
	}
	swept := []string{s.Axis0.Name, s.Axis1.Name}
	f0, f1 := familyOf(swept[0]), familyOf(swept[1])
	if f0 != nil && f1 != nil && f0[0] != f1[0] {
		return fmt.Errorf("%w: %s and %s", ErrMixedAxes, swept[0], swept[1])
	}
	for _, axis := range swept {
		if _, ok := pos[axis]; !ok {
			return fmt.Errorf("device has no axis %q", axis)
		}
	}
	control, saved := snapshot(swept, pos)

	var kind EventKind
	if continueSweep {
		a.idx = a.resume
		kind = MeasurementContinued
	} else {
		start := make(map[string]float64, 2)
		for _, axis := range swept {
			start[axis] = pos[axis]
			if v, ok := s.Start[axis]; ok {
				start[axis] = v
			}
		}
		s.Start = start
		path, back, err := pathway.Build(s)
		if err != nil {
			return err
		}
		a0, a1, err := pathway.Arrays(s)
		if err != nil {
			return err
		}
		m, err := datamatrix.New(len(a0), len(a1))
		if err != nil {
			return err
		}
		a.path, a.back, a.matrix, a.axis0, a.axis1 = path, back, m, a0, a1
		a.runSweep = s
		a.idx, a.resume = 0, 0
		a.intended, a.reached, a.errs = nil, nil, nil
		a.runID = uuid.NewString()
		a.started = time.Now()
		kind = MeasurementStarted
	}
	a.control, a.saved = control, saved
	a.stopped = time.Time{}
	a.runStart, a.runTime = a.idx, time.Now()
	a.stopReq = false
	a.state = Running
	a.done = make(chan struct{})

	Logf("align: %s sweep %s at step %d of %d", kind, a.runID, a.idx, len(a.path))
	go a.run(ctx, a.done, Event{Kind: kind, Index: a.idx, Total: len(a.path)})
	return nil
}

// snapshot splits the present position into the held axes of the swept
// family and the pre-sweep position of the swept axes
func snapshot(swept []string, pos map[string]float64) (control, saved map[string]float64) {
	control = map[string]float64{}
	saved = map[string]float64{}
	isSwept := map[string]bool{}
	for _, axis := range swept {
		isSwept[axis] = true
		saved[axis] = pos[axis]
	}
	for _, axis := range swept {
		for _, f := range familyOf(axis) {
			if !isSwept[f] {
				control[f] = pos[f]
			}
		}
	}
	return control, saved
}

// Stop asks the sweep to finish at the next step boundary.  It does not
// interrupt a move or measurement in progress; call the device's Abort for
// that.
func (a *Aligner) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Running {
		a.stopReq = true
		a.state = Stopping
	}
}

func (a *Aligner) stopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopReq
}

func (a *Aligner) requestStop(reason error) {
	Logf("align: stopping sweep: %v", reason)
	a.Stop()
}

func (a *Aligner) emit(e Event) {
	a.mu.Lock()
	e.RunID = a.runID
	a.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	a.events.publish(e)
}

// run is the sweep goroutine
func (a *Aligner) run(ctx context.Context, done chan struct{}, begin Event) {
	defer close(done)
	a.emit(Event{Kind: IdleChanged, Idle: false})
	a.emit(begin)
	if err := a.moveToStep(ctx); err != nil {
		a.requestStop(err)
	}
	for a.step(ctx) {
	}
	a.finish(ctx)
}

// step runs one pathway step and reports if another should be scheduled
func (a *Aligner) step(ctx context.Context) bool {
	if a.stopRequested() {
		return false
	}
	if err := ctx.Err(); err != nil {
		a.requestStop(err)
		return false
	}
	a.mu.Lock()
	idx, cell, freq := a.idx, a.back[a.idx].Index, a.optimizeFreq
	a.mu.Unlock()

	a.premeasure(ctx, idx, freq)
	v, meta, err := a.meas.Measure(ctx)
	if err != nil {
		a.requestStop(fmt.Errorf("measurement at step %d: %w", idx, err))
		return false
	}
	if err := a.matrix.Set(cell[0], cell[1], v, meta); err != nil {
		a.requestStop(err)
		return false
	}
	a.emit(Event{Kind: MatrixChanged, Index: idx, Cell: cell, Value: v})

	a.mu.Lock()
	a.idx++
	more := a.idx < len(a.path)
	a.mu.Unlock()
	if !more {
		return false
	}
	if err := a.moveToStep(ctx); err != nil {
		a.requestStop(err)
		return false
	}
	return true
}

// premeasure runs the optimizer according to freq
func (a *Aligner) premeasure(ctx context.Context, idx int, freq float64) {
	if a.opt == nil || freq == 0 {
		return
	}
	var n int
	switch {
	case freq < 0:
		Logf("align: pre-measurement frequency %g is negative, skipping", freq)
		return
	case freq >= 1:
		n = int(math.Round(freq))
	default:
		every := int(math.Round(1 / freq))
		if idx%every == 0 {
			n = 1
		}
	}
	for i := 0; i < n; i++ {
		if err := a.opt.Optimize(ctx); err != nil {
			Logf("align: pre-measurement at step %d: %v", idx, err)
			return
		}
	}
}

// target merges the held axes into a pathway step
func (a *Aligner) target(idx int) map[string]float64 {
	t := a.path[idx].Targets()
	for k, v := range a.control {
		if _, ok := t[k]; !ok {
			t[k] = v
		}
	}
	return t
}

// moveToStep moves to the present pathway step, waits for the device to
// settle and records where it ended up
func (a *Aligner) moveToStep(ctx context.Context) error {
	a.mu.Lock()
	idx := a.idx
	t := a.target(idx)
	a.mu.Unlock()

	if err := a.moveAndSettle(ctx, t); err != nil {
		return fmt.Errorf("move to step %d: %w", idx, err)
	}
	axes := make([]string, 0, len(t))
	for k := range t {
		axes = append(axes, k)
	}
	reached, err := a.dev.Pos(axes...)
	if err != nil {
		Logf("align: reading position after step %d: %v", idx, err)
		reached = map[string]float64{}
	}
	d := distance(t, reached)
	Logf("align: step %d/%d at %v, distance to target %.3g", idx+1, len(a.path), reached, d)

	a.mu.Lock()
	a.intended = append(a.intended, t)
	a.reached = append(a.reached, reached)
	a.errs = append(a.errs, d)
	a.mu.Unlock()
	a.emit(Event{Kind: PositionChanged, Index: idx, Pos: reached})
	return nil
}

func (a *Aligner) moveAndSettle(ctx context.Context, t map[string]float64) error {
	a.mu.Lock()
	poll, timeout := a.poll, a.settleTimeout
	a.mu.Unlock()
	if err := a.dev.MoveTo(t); err != nil {
		return err
	}
	return watchSettle(ctx, a.dev, poll).Wait(timeout)
}

// distance is the euclidean distance between intended and reached over the
// intended axes.  Missing readings count as NaN.
func distance(intended, reached map[string]float64) float64 {
	var sum float64
	for k, v := range intended {
		r, ok := reached[k]
		if !ok {
			return math.NaN()
		}
		sum += (v - r) * (v - r)
	}
	return math.Sqrt(sum)
}

// finish restores the device and returns to Idle
func (a *Aligner) finish(ctx context.Context) {
	stopped := a.stopRequested()
	a.mu.Lock()
	a.state = Stopping
	restore := make(map[string]float64, len(a.saved)+len(a.control))
	for k, v := range a.control {
		restore[k] = v
	}
	for k, v := range a.saved {
		restore[k] = v
	}
	a.mu.Unlock()

	if stopped {
		a.emit(Event{Kind: MeasurementStopped})
	}
	// restore even when the sweep's context is what stopped it
	if err := a.moveAndSettle(context.WithoutCancel(ctx), restore); err != nil {
		Logf("align: restoring pre-sweep position %v: %v", restore, err)
	}

	a.mu.Lock()
	a.resume = a.idx
	total := len(a.path)
	a.idx = 0
	a.stopped = time.Now()
	a.state = Idle
	a.stopReq = false
	a.mu.Unlock()

	Logf("align: sweep finished, %d of %d cells measured", a.matrix.Filled(), total)
	a.emit(Event{Kind: MeasurementFinished, Total: total})
	a.emit(Event{Kind: IdleChanged, Idle: true})
}

// Progress is a snapshot of the sweep's advance
type Progress struct {
	State   State         `json:"state"`
	RunID   string        `json:"runId"`
	Index   int           `json:"index"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed"`
	ETA     time.Duration `json:"eta"`
}

// Progress returns the index, total and an ETA from the mean step time of
// the present run
func (a *Aligner) Progress() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := Progress{State: a.state, RunID: a.runID, Index: a.idx, Total: len(a.path)}
	if a.state == Idle {
		p.Index = a.resume
		if !a.stopped.IsZero() {
			p.Elapsed = a.stopped.Sub(a.started)
		}
		return p
	}
	p.Elapsed = time.Since(a.started)
	if done := a.idx - a.runStart; done > 0 {
		per := time.Since(a.runTime) / time.Duration(done)
		p.ETA = per * time.Duration(len(a.path)-a.idx)
	}
	return p
}

// Result is a snapshot of the present or last sweep
type Result struct {
	RunID    string                     `json:"runId" yaml:"runId"`
	Sweep    pathway.Sweep              `json:"sweep" yaml:"sweep"`
	Pathway  pathway.Pathway            `json:"pathway" yaml:"pathway"`
	Backmap  pathway.Backmap            `json:"backmap" yaml:"backmap"`
	Data     *mat.Dense                 `json:"-" yaml:"-"`
	Meta     [][]map[string]interface{} `json:"-" yaml:"-"`
	Axis0    []float64                  `json:"axis0" yaml:"axis0"`
	Axis1    []float64                  `json:"axis1" yaml:"axis1"`
	Intended []map[string]float64       `json:"intended" yaml:"intended"`
	Reached  []map[string]float64       `json:"reached" yaml:"reached"`
	Errors   []float64                  `json:"errors" yaml:"errors"`
	Filled   int                        `json:"filled" yaml:"filled"`
	Start    time.Time                  `json:"start" yaml:"start"`
	Stop     time.Time                  `json:"stop" yaml:"stop"`
}

// Complete reports if every cell was measured
func (r Result) Complete() bool {
	return r.Filled == len(r.Pathway) && len(r.Pathway) > 0
}

// Result returns a copy of the present or last sweep's data, ok is false
// if no sweep has been started
func (a *Aligner) Result() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.matrix == nil {
		return Result{}, false
	}
	r := Result{
		RunID:    a.runID,
		Sweep:    a.runSweep,
		Pathway:  a.path,
		Backmap:  a.back,
		Data:     a.matrix.Dense(),
		Axis0:    append([]float64(nil), a.axis0...),
		Axis1:    append([]float64(nil), a.axis1...),
		Intended: append([]map[string]float64(nil), a.intended...),
		Reached:  append([]map[string]float64(nil), a.reached...),
		Errors:   append([]float64(nil), a.errs...),
		Filled:   a.matrix.Filled(),
		Start:    a.started,
		Stop:     a.stopped,
	}
	rows, cols := a.matrix.Dims()
	r.Meta = make([][]map[string]interface{}, rows)
	for i := range r.Meta {
		r.Meta[i] = make([]map[string]interface{}, cols)
		for j := range r.Meta[i] {
			r.Meta[i][j] = a.matrix.Meta(i, j)
		}
	}
	return r, true
}

// Matrix returns the live data matrix of the present or last sweep, nil
// before the first sweep.  Cells only ever change from 0 to their value.
func (a *Aligner) Matrix() *datamatrix.Matrix {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matrix
}
