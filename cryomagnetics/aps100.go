// Package cryomagnetics provides an interface to Cryomagnetics superconducting
// magnet power supplies.  The APS100 is supported.
//
// The supplies speak a line oriented SCPI dialect in kilogauss.  This package
// converts to and from tesla at its boundary.
package cryomagnetics

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/vectormagnet/comm"
	"github.com/nasa-jpl/vectormagnet/scpi"
)

const (
	// KGPerTesla converts tesla to kilogauss
	KGPerTesla = 10.

	// SettleTolerance is the field error in T below which a supply is not moving
	SettleTolerance = 1e-4

	// DefaultBaud is the RS-232 rate of the APS100
	DefaultBaud = 9600

	serialTimeout = 2 * time.Second
)

var (
	// ErrUnits is returned when the supply is not configured to report field
	ErrUnits = errors.New("supply is not set to field units (G or kG)")

	// ErrParse is returned when a response holds no number
	ErrParse = errors.New("could not parse supply response")

	// lastResort recovers a number from the occasional garbled IOUT? reply,
	// which can hold two values run together
	lastResort = regexp.MustCompile(`[-+]?[0-9][.][0-9]+`)
)

// Direction is a sweep direction of the supply
type Direction string

const (
	// Up sweeps to the upper limit
	Up Direction = "UP"
	// Down sweeps to the lower limit
	Down Direction = "DOWN"
	// Pause holds the present output
	Pause Direction = "PAUSE"
	// Zero sweeps to zero output
	Zero Direction = "ZERO"
)

// StateCode is the numeric status of the supply, from its manual
type StateCode int

const (
	// Ramping toward the target
	Ramping StateCode = iota + 1
	// Holding at the target
	Holding
	// Paused mid sweep
	Paused
	// ManualUp is ramping in manual up mode
	ManualUp
	// ManualDown is ramping in manual down mode
	ManualDown
	// Zeroing is ramping to zero current
	Zeroing
	// Quench has been detected
	Quench
	// AtZero current
	AtZero
	// HeatingSwitch is heating the persistent switch
	HeatingSwitch
	// CoolingSwitch is cooling the persistent switch
	CoolingSwitch
)

func (s StateCode) String() string {
	switch s {
	case Ramping:
		return "RAMPING to target field/current"
	case Holding:
		return "HOLDING at the target field/current"
	case Paused:
		return "PAUSED"
	case ManualUp:
		return "Ramping in MANUAL UP mode"
	case ManualDown:
		return "Ramping in MANUAL DOWN mode"
	case Zeroing:
		return "ZEROING CURRENT (in progress)"
	case Quench:
		return "Quench detected"
	case AtZero:
		return "At ZERO current"
	case HeatingSwitch:
		return "Heating persistent switch"
	case CoolingSwitch:
		return "Cooling persistent switch"
	}
	return "unknown state " + strconv.Itoa(int(s))
}

// ParseStateCode converts a numeric state reply to a StateCode.  Multi digit
// replies are reduced by dropping trailing digits until they are <= 10.
func ParseStateCode(s string) (StateCode, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(ErrParse, "state %q", s)
	}
	for i > 10 {
		i /= 10
	}
	if i < 1 {
		return 0, errors.Wrapf(ErrParse, "state %q out of range", s)
	}
	return StateCode(i), nil
}

// ParseField converts a reply such as "12.3456kG" to tesla
func ParseField(resp string) (float64, error) {
	resp = strings.TrimSpace(resp)
	num := strings.TrimRightFunc(resp, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	unit := strings.ToLower(strings.TrimSpace(resp[len(num):]))
	div := KGPerTesla
	switch unit {
	case "g":
		div = 1e4
	case "t":
		div = 1
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		m := lastResort.FindString(resp)
		if m == "" {
			return 0, errors.Wrapf(ErrParse, "field %q", resp)
		}
		f, err = strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrParse, "field %q", resp)
		}
	}
	return f / div, nil
}

// parseLeadingFloat parses a number followed by a unit, e.g. "0.0120A/s"
func parseLeadingFloat(resp string) (float64, error) {
	m := lastResort.FindString(resp)
	if m == "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
		return f, errors.Wrapf(err, "parsing %q", resp)
	}
	return strconv.ParseFloat(m, 64)
}

// APS100 is one output channel of an APS100 bipolar supply
type APS100 struct {
	s scpi.SCPI

	mu     sync.Mutex
	target float64
	dir    Direction
}

// NewAPS100 returns a supply talking over pool.  Channel 0 addresses a
// single channel supply; otherwise every exchange starts with a
// "CHAN n" select.  Supplies on a serial link echo every line; set echo
// for those.
//
// Two channels of one unit on the same serial line must share one pool.
func NewAPS100(pool *comm.Pool, channel int, echo bool) *APS100 {
	s := scpi.SCPI{Pool: pool, Echo: echo, Timeout: serialTimeout}
	if channel > 0 {
		s.Prefix = []string{"CHAN " + strconv.Itoa(channel)}
	}
	return &APS100{s: s, dir: Zero}
}

// NewAPS100Addr is NewAPS100 with a fresh pool for addr.  serial ports echo.
func NewAPS100Addr(addr string, serial bool, channel int) *APS100 {
	maker := comm.Maker(addr, serial, DefaultBaud, serialTimeout)
	pool := comm.NewPool(1, 10*time.Second, maker)
	return NewAPS100(pool, channel, serial)
}

// Remote puts the supply in remote mode, locking the front panel
func (a *APS100) Remote() error {
	return errors.Wrap(a.s.Write("REMOTE"), "REMOTE")
}

// Local returns the supply to front panel control
func (a *APS100) Local() error {
	return errors.Wrap(a.s.Write("LOCAL"), "LOCAL")
}

// Identification returns the identifying string of the supply
func (a *APS100) Identification() (string, error) {
	return a.s.ReadString("*IDN?")
}

// Units returns the unit the supply reports in
func (a *APS100) Units() (string, error) {
	return a.s.ReadString("UNIT?")
}

// Field returns the present output field in T
func (a *APS100) Field() (float64, error) {
	resp, err := a.s.ReadString("IOUT?")
	if err != nil {
		return 0, errors.Wrap(err, "IOUT?")
	}
	return ParseField(resp)
}

// SetTarget sets the sweep limit toward target, in T.  The field does not
// change until Ramp is called.
func (a *APS100) SetTarget(target float64) error {
	unit, err := a.Units()
	if err != nil {
		return errors.Wrap(err, "UNIT?")
	}
	if !strings.Contains(strings.ToUpper(unit), "G") {
		return errors.Wrapf(ErrUnits, "got %q", unit)
	}
	cur, err := a.Field()
	if err != nil {
		return err
	}
	lim, dir := "LLIM", Down
	if target > cur {
		lim, dir = "ULIM", Up
	}
	kg := strconv.FormatFloat(target*KGPerTesla, 'f', 5, 64)
	if err := a.s.Write(lim, kg); err != nil {
		return errors.Wrap(err, lim)
	}
	a.mu.Lock()
	a.target, a.dir = target, dir
	a.mu.Unlock()
	return nil
}

// Target returns the last target set, in T
func (a *APS100) Target() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// Ramp starts the sweep toward the target
func (a *APS100) Ramp() error {
	a.mu.Lock()
	dir := a.dir
	a.mu.Unlock()
	return a.sweep(dir)
}

func (a *APS100) sweep(d Direction) error {
	return errors.Wrapf(a.s.Write("SWEEP", string(d)), "SWEEP %s", d)
}

// Pause stops the sweep, holding the present field
func (a *APS100) Pause() error {
	a.mu.Lock()
	a.dir = Pause
	a.mu.Unlock()
	return a.sweep(Pause)
}

// Zero sweeps the output to zero
func (a *APS100) Zero() error {
	a.mu.Lock()
	a.target, a.dir = 0, Zero
	a.mu.Unlock()
	return a.sweep(Zero)
}

// Mode returns the sweep mode reported by the supply, e.g. "Pause"
func (a *APS100) Mode() (string, error) {
	return a.s.ReadString("SWEEP?")
}

// Moving reports if the output is still ramping toward the target.  A
// paused supply is not moving.
func (a *APS100) Moving() (bool, error) {
	a.mu.Lock()
	dir, target := a.dir, a.target
	a.mu.Unlock()
	if dir == Pause {
		return false, nil
	}
	f, err := a.Field()
	if err != nil {
		return false, err
	}
	return math.Abs(f-target) > SettleTolerance, nil
}

// State derives a StateCode from the sweep direction and the field
func (a *APS100) State() (StateCode, error) {
	a.mu.Lock()
	dir := a.dir
	a.mu.Unlock()
	f, err := a.Field()
	if err != nil {
		return 0, err
	}
	moving, err := a.Moving()
	if err != nil {
		return 0, err
	}
	return stateOf(dir, f, moving), nil
}

func stateOf(dir Direction, f float64, moving bool) StateCode {
	switch {
	case dir == Pause:
		return Paused
	case dir == Zero && !moving && math.Abs(f) <= SettleTolerance:
		return AtZero
	case dir == Zero:
		return Zeroing
	case moving:
		return Ramping
	}
	return Holding
}

// Rate returns the ramp rate of range 0, in the supply's units (A/s)
func (a *APS100) Rate() (float64, error) {
	resp, err := a.s.ReadString("RATE? 0")
	if err != nil {
		return 0, errors.Wrap(err, "RATE?")
	}
	return parseLeadingFloat(resp)
}

// SetRate sets the ramp rate of range 0, in the supply's units (A/s)
func (a *APS100) SetRate(rate float64) error {
	if rate <= 0 {
		return errors.Errorf("ramp rate must be positive, got %g", rate)
	}
	return errors.Wrap(a.s.Write("RATE 0", strconv.FormatFloat(rate, 'f', -1, 64)), "RATE")
}

// Close returns the supply to local control.  The pool is left open, it
// may be shared with another channel.
func (a *APS100) Close() error {
	return a.Local()
}
