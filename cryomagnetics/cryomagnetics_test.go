package cryomagnetics_test

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/vectormagnet/comm"
	"github.com/nasa-jpl/vectormagnet/cryomagnetics"
)

func ExampleParseField() {
	f, _ := cryomagnetics.ParseField("12.50000kG")
	fmt.Println(f)
	// Output: 1.25
}

func TestParseFieldGarbled(t *testing.T) {
	f, err := cryomagnetics.ParseField("0.01940.01345kG")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f-0.001940) > 1e-12 {
		t.Errorf("expected the first value recovered, got %v", f)
	}
	if _, err := cryomagnetics.ParseField("ERROR"); !errors.Is(err, cryomagnetics.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestParseFieldGauss(t *testing.T) {
	f, err := cryomagnetics.ParseField("-500.0G")
	if err != nil || math.Abs(f+0.05) > 1e-12 {
		t.Errorf("expected -0.05 T, got %v %v", f, err)
	}
}

func TestParseStateCode(t *testing.T) {
	cases := map[string]cryomagnetics.StateCode{
		"1":   cryomagnetics.Ramping,
		"2":   cryomagnetics.Holding,
		"10":  cryomagnetics.CoolingSwitch,
		"84":  cryomagnetics.AtZero,
		"333": cryomagnetics.Paused,
	}
	for in, want := range cases {
		got, err := cryomagnetics.ParseStateCode(in)
		if err != nil || got != want {
			t.Errorf("ParseStateCode(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := cryomagnetics.ParseStateCode("0"); err == nil {
		t.Error("expected 0 to be rejected")
	}
}

// fakeAPS simulates one serial line with two echoing channels
type fakeAPS struct {
	mu    sync.Mutex
	chans map[string]*fakeChan
	cur   string
	log   []string
}

type fakeChan struct {
	field, ulim, llim float64 // kG
	unit, sweep       string
}

func newFakeAPS() *fakeAPS {
	return &fakeAPS{chans: map[string]*fakeChan{
		"1": {unit: "kG", sweep: "Pause"},
		"2": {unit: "kG", sweep: "Pause"},
	}, cur: "1"}
}

func (f *fakeAPS) handle(line string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, line)
	c := f.chans[f.cur]
	fields := strings.Fields(line)
	switch {
	case len(fields) == 0:
	case strings.HasPrefix(line, "CHAN "):
		f.cur = fields[1]
	case line == "IOUT?":
		return fmt.Sprintf("%.5fkG", c.field), true
	case line == "UNIT?":
		return c.unit, true
	case line == "SWEEP?":
		return c.sweep, true
	case line == "RATE? 0":
		return "0.0120A/s", true
	case line == "*IDN?":
		return "AMI,APS100,0,1.0", true
	case fields[0] == "ULIM":
		fmt.Sscan(fields[1], &c.ulim)
	case fields[0] == "LLIM":
		fmt.Sscan(fields[1], &c.llim)
	case line == "SWEEP UP":
		c.field, c.sweep = c.ulim, "Sweep Up"
	case line == "SWEEP DOWN":
		c.field, c.sweep = c.llim, "Sweep Down"
	case line == "SWEEP ZERO":
		c.field, c.sweep = 0, "Zeroing"
	case line == "SWEEP PAUSE":
		c.sweep = "Pause"
	}
	return "", false
}

func (f *fakeAPS) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		io.WriteString(conn, line+"\r\n") // echo
		if resp, ok := f.handle(line); ok {
			io.WriteString(conn, resp+"\r\n")
		}
	}
}

func (f *fakeAPS) pool() *comm.Pool {
	return comm.NewPool(1, time.Second, func() (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		go f.serve(b)
		return a, nil
	})
}

func TestAPS100SetTargetAndRamp(t *testing.T) {
	dev := newFakeAPS()
	pool := dev.pool()
	defer pool.Close()
	z := cryomagnetics.NewAPS100(pool, 1, true)
	x := cryomagnetics.NewAPS100(pool, 2, true)

	if err := x.SetTarget(0.5); err != nil {
		t.Fatal(err)
	}
	if err := z.SetTarget(-0.25); err != nil {
		t.Fatal(err)
	}
	moving, err := x.Moving()
	if err != nil || !moving {
		t.Errorf("expected x to be moving before the ramp, got %v %v", moving, err)
	}
	if err := x.Ramp(); err != nil {
		t.Fatal(err)
	}
	if err := z.Ramp(); err != nil {
		t.Fatal(err)
	}
	fx, err := x.Field()
	if err != nil || math.Abs(fx-0.5) > 1e-9 {
		t.Errorf("x field: expected 0.5 T, got %v %v", fx, err)
	}
	fz, err := z.Field()
	if err != nil || math.Abs(fz+0.25) > 1e-9 {
		t.Errorf("z field: expected -0.25 T, got %v %v", fz, err)
	}
	if moving, _ := x.Moving(); moving {
		t.Error("expected x to have settled")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.chans["2"].ulim != 5 {
		t.Errorf("expected ULIM 5 kG on channel 2, got %v", dev.chans["2"].ulim)
	}
	if dev.chans["1"].llim != -2.5 {
		t.Errorf("expected LLIM -2.5 kG on channel 1, got %v", dev.chans["1"].llim)
	}
}

func TestAPS100RejectsAmps(t *testing.T) {
	dev := newFakeAPS()
	dev.chans["1"].unit = "A"
	pool := dev.pool()
	defer pool.Close()
	z := cryomagnetics.NewAPS100(pool, 1, true)
	if err := z.SetTarget(1); !errors.Is(err, cryomagnetics.ErrUnits) {
		t.Errorf("expected ErrUnits, got %v", err)
	}
}

func TestAPS100Rate(t *testing.T) {
	dev := newFakeAPS()
	pool := dev.pool()
	defer pool.Close()
	z := cryomagnetics.NewAPS100(pool, 1, true)
	r, err := z.Rate()
	if err != nil || r != 0.012 {
		t.Errorf("expected 0.012, got %v %v", r, err)
	}
	if err := z.SetRate(-1); err == nil {
		t.Error("expected a negative rate to be rejected")
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMockRamps(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	m := cryomagnetics.NewMock(0.1)
	m.Now = clk.now
	m.SetTarget(0.5)
	m.Ramp()
	clk.advance(2 * time.Second)
	f, _ := m.Field()
	if math.Abs(f-0.2) > 1e-12 {
		t.Errorf("expected 0.2 T after 2 s at 0.1 T/s, got %v", f)
	}
	if moving, _ := m.Moving(); !moving {
		t.Error("expected the mock to be moving mid ramp")
	}
	if s, _ := m.State(); s != cryomagnetics.Ramping {
		t.Errorf("expected Ramping, got %v", s)
	}
	clk.advance(10 * time.Second)
	f, _ = m.Field()
	if f != 0.5 {
		t.Errorf("expected the ramp to stop at 0.5, got %v", f)
	}
	if s, _ := m.State(); s != cryomagnetics.Holding {
		t.Errorf("expected Holding, got %v", s)
	}
}

func TestMockPauseAndZero(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	m := cryomagnetics.NewMock(0.1)
	m.Now = clk.now
	m.SetTarget(-1)
	m.Ramp()
	clk.advance(3 * time.Second)
	m.Pause()
	clk.advance(time.Minute)
	f, _ := m.Field()
	if math.Abs(f+0.3) > 1e-12 {
		t.Errorf("expected the pause to hold -0.3, got %v", f)
	}
	if moving, _ := m.Moving(); moving {
		t.Error("a paused mock is not moving")
	}
	m.Zero()
	clk.advance(time.Minute)
	if s, _ := m.State(); s != cryomagnetics.AtZero {
		t.Errorf("expected AtZero, got %v", s)
	}
}
