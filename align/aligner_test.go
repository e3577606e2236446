package align_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/vectormagnet/align"
	"github.com/nasa-jpl/vectormagnet/pathway"
)

func init() {
	align.SetLogger(nil)
}

// stubDevice settles immediately unless stuck, and records every move
type stubDevice struct {
	mu     sync.Mutex
	pos    map[string]float64
	moves  []map[string]float64
	failAt int // 1-based move number to fail, 0 never
	stuck  bool
}

func newStub() *stubDevice {
	return &stubDevice{pos: map[string]float64{"x": 0, "y": 0, "z": 0}}
}

func (d *stubDevice) MoveTo(t map[string]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := map[string]float64{}
	for k, v := range t {
		cp[k] = v
	}
	d.moves = append(d.moves, cp)
	if d.failAt != 0 && len(d.moves) == d.failAt {
		return errors.New("supply fault")
	}
	for k, v := range t {
		d.pos[k] = v
	}
	return nil
}

func (d *stubDevice) Pos(axes ...string) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]float64{}
	for k, v := range d.pos {
		out[k] = v
	}
	return out, nil
}

func (d *stubDevice) Status(axes ...string) (map[string]bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]bool{"x": d.stuck, "y": false, "z": false}, nil
}

func (d *stubDevice) Abort() error { return nil }

func (d *stubDevice) history() []map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]float64(nil), d.moves...)
}

// counter returns the position of x as the measurement
type counter struct {
	mu    sync.Mutex
	n     int
	dev   *stubDevice
	after func(n int)
}

func (c *counter) Measure(ctx context.Context) (float64, map[string]interface{}, error) {
	c.mu.Lock()
	c.n++
	n := c.n
	c.mu.Unlock()
	p, _ := c.dev.Pos()
	if c.after != nil {
		c.after(n)
	}
	return p["x"] + 10, map[string]interface{}{"n": n}, nil
}

func (c *counter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func smallSweep() pathway.Sweep {
	return pathway.Sweep{
		Axis0: pathway.Axis{Name: "x", Range: 2, Step: 1},
		Axis1: pathway.Axis{Name: "y", Range: 1, Step: 1},
	}
}

func wait(t *testing.T, a *align.Aligner) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish")
	}
}

func collect(a *align.Aligner) func() []align.EventKind {
	var mu sync.Mutex
	var kinds []align.EventKind
	align.WithSink(func(e align.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})(a)
	return func() []align.EventKind {
		mu.Lock()
		defer mu.Unlock()
		return append([]align.EventKind(nil), kinds...)
	}
}

func TestSweepTerminatesAfterEveryCell(t *testing.T) {
	dev := newStub()
	dev.pos["z"] = 0.7
	meas := &counter{dev: dev}
	a := align.New(dev, meas, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	events := collect(a)

	require.NoError(t, a.Start(context.Background(), false))
	wait(t, a)

	assert.Equal(t, align.Idle, a.State())
	assert.Equal(t, 6, meas.calls(), "one measurement per pathway step")

	res, ok := a.Result()
	require.True(t, ok)
	assert.True(t, res.Complete())
	assert.Len(t, res.Errors, 6)
	assert.Len(t, res.Intended, 6)
	assert.NotEmpty(t, res.RunID)
	// x runs -1, 0, 1 along axis0; the measurement is x+10
	assert.Equal(t, 9., res.Data.At(0, 0))
	assert.Equal(t, 11., res.Data.At(2, 1))
	assert.Equal(t, 6, res.Meta[0][1]["n"], "last cell of the snake is (0, 1)")

	moves := dev.history()
	require.Len(t, moves, 7, "six steps and the restore")
	for _, m := range moves {
		assert.Equal(t, 0.7, m["z"], "z is held on every move")
	}
	assert.Equal(t, map[string]float64{"x": 0, "y": 0, "z": 0.7}, moves[6], "restored to the pre-sweep position")

	kinds := events()
	require.NotEmpty(t, kinds)
	assert.Equal(t, align.MeasurementStarted, kinds[1])
	assert.Contains(t, kinds, align.MatrixChanged)
	assert.Contains(t, kinds, align.PositionChanged)
	assert.NotContains(t, kinds, align.MeasurementStopped)
	assert.Equal(t, align.MeasurementFinished, kinds[len(kinds)-2])
	assert.Equal(t, align.IdleChanged, kinds[len(kinds)-1])

	assert.ErrorIs(t, a.Start(context.Background(), true), align.ErrNothingToContinue)
}

func TestStopThenContinue(t *testing.T) {
	dev := newStub()
	var a *align.Aligner
	meas := &counter{dev: dev}
	meas.after = func(n int) {
		if n == 2 {
			a.Stop()
		}
	}
	a = align.New(dev, meas, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	events := collect(a)

	require.NoError(t, a.Start(context.Background(), false))
	wait(t, a)
	assert.Equal(t, 2, meas.calls(), "stop is honored at the next step boundary")
	kinds := events()
	assert.Contains(t, kinds, align.MeasurementStopped)
	assert.Equal(t, align.MeasurementFinished, kinds[len(kinds)-2])

	moves := dev.history()
	assert.Equal(t, map[string]float64{"x": 0, "y": 0, "z": 0}, moves[len(moves)-1], "restored after stop")
	assert.Equal(t, 2, a.Progress().Index)
	first, ok := a.Result()
	require.True(t, ok)

	meas.after = nil
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, a.Start(context.Background(), true))
	wait(t, a)
	assert.Equal(t, 6, meas.calls())
	res, _ := a.Result()
	assert.True(t, res.Complete())
	assert.Equal(t, first.RunID, res.RunID)
	assert.True(t, first.Start.Equal(res.Start), "continuing keeps the sweep's start time")
	assert.True(t, res.Stop.After(first.Stop))
	assert.Contains(t, events(), align.MeasurementContinued)
}

func TestBusy(t *testing.T) {
	dev := newStub()
	release := make(chan struct{})
	meas := align.MeasureFunc(func(ctx context.Context) (float64, map[string]interface{}, error) {
		<-release
		return 1, nil, nil
	})
	a := align.New(dev, meas, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	require.NoError(t, a.Start(context.Background(), false))
	assert.ErrorIs(t, a.Start(context.Background(), false), align.ErrBusy)
	assert.ErrorIs(t, a.SetSweep(smallSweep()), align.ErrBusy)
	close(release)
	wait(t, a)
}

func TestMoveFailureStopsAndRestores(t *testing.T) {
	dev := newStub()
	dev.failAt = 3
	meas := &counter{dev: dev}
	a := align.New(dev, meas, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	events := collect(a)
	require.NoError(t, a.Start(context.Background(), false))
	wait(t, a)
	assert.Equal(t, 2, meas.calls())
	assert.Contains(t, events(), align.MeasurementStopped)
	moves := dev.history()
	assert.Len(t, moves, 4, "two good moves, the failed one, then the restore")
}

func TestStalledDeviceTimesOut(t *testing.T) {
	dev := newStub()
	dev.stuck = true
	meas := &counter{dev: dev}
	a := align.New(dev, meas,
		align.WithSweep(smallSweep()),
		align.WithPollInterval(time.Millisecond),
		align.WithSettleTimeout(20*time.Millisecond))
	require.NoError(t, a.Start(context.Background(), false))
	wait(t, a)
	assert.Equal(t, 0, meas.calls(), "nothing is measured before the device settles")
	assert.Equal(t, align.Idle, a.State())
}

func TestCancelContextStops(t *testing.T) {
	dev := newStub()
	ctx, cancel := context.WithCancel(context.Background())
	meas := &counter{dev: dev}
	meas.after = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	a := align.New(dev, meas, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	require.NoError(t, a.Start(ctx, false))
	wait(t, a)
	assert.Less(t, meas.calls(), 6)
	moves := dev.history()
	assert.Equal(t, map[string]float64{"x": 0, "y": 0, "z": 0}, moves[len(moves)-1])
}

func TestPremeasureFrequency(t *testing.T) {
	cases := []struct {
		freq float64
		want int
	}{
		{0, 0},
		{1, 6},
		{2, 12},
		{0.5, 3},
		{0.3, 2},
		{-1, 0},
	}
	for _, tc := range cases {
		dev := newStub()
		var mu sync.Mutex
		n := 0
		opt := align.OptimizeFunc(func(ctx context.Context) error {
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		})
		a := align.New(dev, &counter{dev: dev},
			align.WithSweep(smallSweep()),
			align.WithPollInterval(time.Millisecond),
			align.WithOptimizer(opt, tc.freq))
		require.NoError(t, a.Start(context.Background(), false))
		wait(t, a)
		mu.Lock()
		assert.Equal(t, tc.want, n, "freq %v", tc.freq)
		mu.Unlock()
	}
}

func TestMixedAxesRejected(t *testing.T) {
	dev := newStub()
	dev.pos["theta"] = 0
	a := align.New(dev, &counter{dev: dev}, align.WithSweep(pathway.Sweep{
		Axis0: pathway.Axis{Name: "x", Range: 1, Step: 1},
		Axis1: pathway.Axis{Name: "theta", Range: 1, Step: 1},
	}))
	assert.ErrorIs(t, a.Start(context.Background(), false), align.ErrMixedAxes)
	assert.Equal(t, align.Idle, a.State())
}

func TestSubscribe(t *testing.T) {
	dev := newStub()
	a := align.New(dev, &counter{dev: dev}, align.WithSweep(smallSweep()), align.WithPollInterval(time.Millisecond))
	ch, cancel := a.Subscribe(64)
	defer cancel()
	require.NoError(t, a.Start(context.Background(), false))
	wait(t, a)
	finished := false
	for len(ch) > 0 {
		e := <-ch
		if e.Kind == align.MeasurementFinished {
			finished = true
			assert.Equal(t, 6, e.Total)
		}
	}
	assert.True(t, finished)
}

func TestProgressJSON(t *testing.T) {
	in := align.Progress{State: align.Running, RunID: "abc", Index: 3, Total: 6, ETA: time.Second}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"running"`)
	var out align.Progress
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	for _, s := range []align.State{align.Idle, align.Running, align.Stopping} {
		var got align.State
		require.NoError(t, got.UnmarshalText([]byte(s.String())))
		assert.Equal(t, s, got)
	}
	var st align.State
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}

func TestSetLoggerConcurrent(t *testing.T) {
	defer align.SetLogger(nil)
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	capture := func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(&buf, format+"\n", v...)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			align.SetLogger(capture)
		}()
		go func(i int) {
			defer wg.Done()
			align.Logf("line %d", i)
		}(i)
	}
	wg.Wait()

	align.SetLogger(capture)
	align.Logf("after %s", "swap")
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "after swap")
}
