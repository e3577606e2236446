package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/multierr"

	"github.com/nasa-jpl/vectormagnet/align"
	"github.com/nasa-jpl/vectormagnet/comm"
	"github.com/nasa-jpl/vectormagnet/constraint"
	"github.com/nasa-jpl/vectormagnet/cryomagnetics"
	"github.com/nasa-jpl/vectormagnet/field"
	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/generichttp/alignment"
	"github.com/nasa-jpl/vectormagnet/generichttp/vectormagnet"
	"github.com/nasa-jpl/vectormagnet/magnet"
	"github.com/nasa-jpl/vectormagnet/measure"
	"github.com/nasa-jpl/vectormagnet/pathway"
	"github.com/nasa-jpl/vectormagnet/save"
	"github.com/nasa-jpl/vectormagnet/server/middleware/locker"
	"github.com/nasa-jpl/vectormagnet/util"
)

// SupplySetup holds the connection of one supply channel
type SupplySetup struct {
	// Addr is a host:port or a serial port, e.g. /dev/ttyUSB0 or COM3
	Addr string `yaml:"Addr"`

	// Serial is true for an RS-232 link
	Serial bool `yaml:"Serial"`

	// Baud is the serial baud rate, ignored for TCP
	Baud int `yaml:"Baud"`

	// Channel is the output of a dual channel unit, 0 for a single channel
	Channel int `yaml:"Channel"`

	// Echo is true if the supply echoes every line it receives
	Echo bool `yaml:"Echo"`
}

// MagnetSetup configures the vector magnet
type MagnetSetup struct {
	// Endpoint is the URL stem the magnet and aligner are served under
	Endpoint string `yaml:"Endpoint"`

	X SupplySetup `yaml:"X"`
	Y SupplySetup `yaml:"Y"`
	Z SupplySetup `yaml:"Z"`

	Limits constraint.Limits `yaml:"Limits"`

	// ConeHalfAngle is the z focused cone half angle in degrees
	ConeHalfAngle float64 `yaml:"ConeHalfAngle"`

	// Mode is the operating mode at startup, normal or z_focused
	Mode string `yaml:"Mode"`

	// MockRate is the ramp rate of mock supplies, T/s.  0 is instantaneous
	MockRate float64 `yaml:"MockRate"`
}

// AlignSetup configures the aligner
type AlignSetup struct {
	Sweep pathway.Sweep `yaml:"Sweep"`

	// OptimizeFreq is the number of optimizer runs per pathway step
	OptimizeFreq float64 `yaml:"OptimizeFreq"`

	// PollInterval is the settle poll period, seconds
	PollInterval float64 `yaml:"PollInterval"`

	// SettleTimeout bounds the wait for the magnet at each step, seconds
	SettleTimeout float64 `yaml:"SettleTimeout"`

	// CounterURL is a GET route returning {"f64": value}.  Empty simulates a
	// coupling peak when Mock is set
	CounterURL string `yaml:"CounterURL"`

	// Integration is the measurement time, seconds
	Integration float64 `yaml:"Integration"`

	// SampleRate is the number of counter reads per second
	SampleRate float64 `yaml:"SampleRate"`

	// TriggerURL is a POST route that runs the optimizer, empty for none
	TriggerURL string `yaml:"TriggerURL"`

	// TriggerMaxElapsed bounds retries of the optimizer trigger, seconds
	TriggerMaxElapsed float64 `yaml:"TriggerMaxElapsed"`

	// SaveDir is where saved sweeps are written
	SaveDir string `yaml:"SaveDir"`

	// Catalog is the path of the sqlite catalog of saved sweeps, empty for none
	Catalog string `yaml:"Catalog"`
}

// Config is the server configuration
type Config struct {
	Addr string `yaml:"Addr"`

	// Mock replaces the supplies with simulated ones
	Mock bool `yaml:"Mock"`

	Magnet MagnetSetup `yaml:"Magnet"`
	Align  AlignSetup  `yaml:"Align"`
}

// Defaults is the configuration used for keys the file does not set
func Defaults() Config {
	return Config{
		Addr: ":8000",
		Mock: true,
		Magnet: MagnetSetup{
			Endpoint: "magnet",
			X:        SupplySetup{Addr: "192.168.100.10:4444", Channel: 2, Baud: cryomagnetics.DefaultBaud},
			Y:        SupplySetup{Addr: "192.168.100.11:4444", Baud: cryomagnetics.DefaultBaud},
			Z:        SupplySetup{Addr: "192.168.100.10:4444", Channel: 1, Baud: cryomagnetics.DefaultBaud},
			Limits:   constraint.Limits{XMax: 1, YMax: 1, ZMax: 3, RhoMax: 1.2},
			Mode:     constraint.Normal.String(),
			MockRate: 0.05,
		},
		Align: AlignSetup{
			Sweep: pathway.Sweep{
				Axis0: pathway.Axis{Name: "theta", Range: 0.02, Step: 0.002},
				Axis1: pathway.Axis{Name: "phi", Range: 0.02, Step: 0.002},
				Mode:  pathway.SnakeWise,
			},
			PollInterval:      align.DefaultPollInterval.Seconds(),
			SettleTimeout:     align.DefaultSettleTimeout.Seconds(),
			Integration:       measure.DefaultIntegration.Seconds(),
			SampleRate:        measure.DefaultSampleRate,
			TriggerMaxElapsed: 30,
			SaveDir:           ".",
			Catalog:           "sweeps.db",
		},
	}
}

// pools holds one connection pool per address, so that the channels of a
// dual channel unit share their link
type pools map[string]*comm.Pool

func (p pools) get(s SupplySetup) *comm.Pool {
	if pool, ok := p[s.Addr]; ok {
		return pool
	}
	baud := s.Baud
	if baud == 0 {
		baud = cryomagnetics.DefaultBaud
	}
	maker := comm.Maker(s.Addr, s.Serial, baud, 2*time.Second)
	pool := comm.NewPool(1, 30*time.Second, maker)
	p[s.Addr] = pool
	return pool
}

func (p pools) Close() error {
	var errs error
	for _, pool := range p {
		errs = multierr.Append(errs, pool.Close())
	}
	return errs
}

// buildMagnet returns the magnet and a function releasing its hardware
func buildMagnet(c Config) (*magnet.Magnet, func() error, error) {
	mode, err := constraint.ParseMode(c.Magnet.Mode)
	if err != nil {
		return nil, nil, err
	}
	checker := constraint.New(c.Magnet.Limits)
	if c.Magnet.ConeHalfAngle > 0 {
		checker.ConeHalfAngle = field.Radians(c.Magnet.ConeHalfAngle)
	}
	if c.Mock {
		m := magnet.NewMock(checker, mode, c.Magnet.MockRate)
		return m, m.Close, nil
	}
	p := pools{}
	supply := func(s SupplySetup) *cryomagnetics.APS100 {
		return cryomagnetics.NewAPS100(p.get(s), s.Channel, s.Echo)
	}
	x, y, z := supply(c.Magnet.X), supply(c.Magnet.Y), supply(c.Magnet.Z)
	for axis, s := range map[string]*cryomagnetics.APS100{"x": x, "y": y, "z": z} {
		if err := s.Remote(); err != nil {
			log.Printf("%s supply did not enter remote mode: %v", axis, err)
		}
	}
	m := magnet.New(x, y, z, checker, mode)
	closer := func() error {
		return multierr.Append(m.Close(), p.Close())
	}
	return m, closer, nil
}

func buildMeasurer(c Config, m *magnet.Magnet) align.Measurer {
	a := c.Align
	if a.CounterURL == "" {
		if !c.Mock {
			log.Println("no CounterURL configured, sweeps will measure a simulated peak")
		}
		center := make(map[string]float64, 2)
		for _, ax := range []pathway.Axis{a.Sweep.Axis0, a.Sweep.Axis1} {
			center[ax.Name] = a.Sweep.Start[ax.Name]
		}
		return measure.Peak{Dev: m, Center: center, Width: a.Sweep.Axis0.Range / 2, Amplitude: 1}
	}
	return measure.Counter{
		URL:         a.CounterURL,
		Integration: util.SecsToDuration(a.Integration),
		SampleRate:  a.SampleRate,
	}
}

// lockDuringSweeps locks l while the aligner is not idle, so that manual
// moves do not race the sweep
func lockDuringSweeps(l *locker.Locker) align.Sink {
	return func(e align.Event) {
		if e.Kind != align.IdleChanged {
			return
		}
		if e.Idle {
			l.Unlock()
			return
		}
		l.LockWithReason(fmt.Sprintf("alignment sweep %s in progress", e.RunID))
	}
}

func buildStore(c AlignSetup) (*save.Store, error) {
	if err := os.MkdirAll(c.SaveDir, 0755); err != nil {
		return nil, err
	}
	s := &save.Store{Dir: c.SaveDir}
	if c.Catalog != "" {
		cat, err := save.Open(c.Catalog)
		if err != nil {
			return nil, err
		}
		s.Catalog = cat
	}
	return s, nil
}

// BuildMux builds the router of the server.  ctx bounds sweeps started over
// HTTP.  The returned function releases the hardware and the catalog.
func BuildMux(ctx context.Context, c Config) (chi.Router, func() error, error) {
	m, closeMagnet, err := buildMagnet(c)
	if err != nil {
		return nil, nil, err
	}
	store, err := buildStore(c.Align)
	if err != nil {
		return nil, nil, multierr.Append(err, closeMagnet())
	}
	closer := func() error {
		errs := closeMagnet()
		if store.Catalog != nil {
			errs = multierr.Append(errs, store.Catalog.Close())
		}
		return errs
	}

	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "/align/", "/abort", "/stop")
	opts := []align.Option{
		align.WithSweep(c.Align.Sweep),
		align.WithPollInterval(util.SecsToDuration(c.Align.PollInterval)),
		align.WithSettleTimeout(util.SecsToDuration(c.Align.SettleTimeout)),
		align.WithSink(lockDuringSweeps(lock)),
	}
	if c.Align.TriggerURL != "" {
		trig := measure.Trigger{URL: c.Align.TriggerURL, MaxElapsed: util.SecsToDuration(c.Align.TriggerMaxElapsed)}
		opts = append(opts, align.WithOptimizer(trig, c.Align.OptimizeFreq))
	}
	aligner := align.New(m, buildMeasurer(c, m), opts...)

	hm := vectormagnet.NewHTTPMagnet(m)
	locker.Inject(hm, lock)
	ha := alignment.NewHTTPAligner(ctx, aligner, m, store)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	hndl := generichttp.SubMuxSanitize(c.Magnet.Endpoint)
	r := chi.NewRouter()
	r.Use(hm.Limit.Check)
	r.Use(lock.Check)
	hm.RT().Bind(r)
	ha.RT().Bind(r)
	root.Mount(hndl, r)

	supergraph := map[string][]string{
		hndl: append(hm.RT().Endpoints(), ha.RT().Endpoints()...),
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(supergraph); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, closer, nil
}
