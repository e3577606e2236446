package cryomagnetics

import (
	"math"
	"sync"
	"time"
)

// Mock is a simulated supply.  The field ramps linearly at Rate T/s from
// the moment Ramp is called, computed from the wall clock rather than a
// servo loop.  A Rate of zero makes every ramp instantaneous.
type Mock struct {
	sync.Mutex

	// Now is the clock; tests may replace it
	Now func() time.Time

	from, target float64
	t0           time.Time
	rate         float64
	dir          Direction
	ramping      bool
}

// NewMock returns a mock supply at zero field ramping at rate T/s
func NewMock(rate float64) *Mock {
	return &Mock{Now: time.Now, rate: rate, dir: Zero}
}

// fieldAt must be called with the lock held
func (m *Mock) fieldAt(t time.Time) float64 {
	if !m.ramping || m.rate <= 0 {
		if m.ramping {
			return m.target
		}
		return m.from
	}
	span := m.target - m.from
	travel := m.rate * t.Sub(m.t0).Seconds()
	if travel >= math.Abs(span) {
		return m.target
	}
	return m.from + math.Copysign(travel, span)
}

// settle must be called with the lock held; it freezes the ramp at now
func (m *Mock) settle() {
	m.from = m.fieldAt(m.Now())
	m.ramping = false
}

// Field returns the present output field in T
func (m *Mock) Field() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.fieldAt(m.Now()), nil
}

// SetTarget sets the next ramp destination in T
func (m *Mock) SetTarget(target float64) error {
	m.Lock()
	defer m.Unlock()
	m.settle()
	m.target = target
	m.dir = Down
	if target > m.from {
		m.dir = Up
	}
	return nil
}

// Target returns the last target set
func (m *Mock) Target() float64 {
	m.Lock()
	defer m.Unlock()
	return m.target
}

// Ramp starts moving toward the target
func (m *Mock) Ramp() error {
	m.Lock()
	defer m.Unlock()
	m.settle()
	m.t0 = m.Now()
	m.ramping = true
	if m.dir == Pause {
		m.dir = Up
		if m.target < m.from {
			m.dir = Down
		}
	}
	return nil
}

// Pause holds the present field
func (m *Mock) Pause() error {
	m.Lock()
	defer m.Unlock()
	m.settle()
	m.dir = Pause
	return nil
}

// Zero ramps to zero field
func (m *Mock) Zero() error {
	m.Lock()
	defer m.Unlock()
	m.settle()
	m.target = 0
	m.dir = Zero
	m.t0 = m.Now()
	m.ramping = true
	return nil
}

// Moving reports if the field has not reached the target
func (m *Mock) Moving() (bool, error) {
	m.Lock()
	defer m.Unlock()
	if !m.ramping {
		return false, nil
	}
	return math.Abs(m.fieldAt(m.Now())-m.target) > SettleTolerance, nil
}

// State returns the simulated StateCode
func (m *Mock) State() (StateCode, error) {
	m.Lock()
	defer m.Unlock()
	f := m.fieldAt(m.Now())
	moving := m.ramping && math.Abs(f-m.target) > SettleTolerance
	return stateOf(m.dir, f, moving), nil
}

// Rate returns the ramp rate in T/s
func (m *Mock) Rate() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.rate, nil
}

// SetRate sets the ramp rate in T/s.  A ramp in progress continues from
// where it is at the new rate.
func (m *Mock) SetRate(rate float64) error {
	m.Lock()
	defer m.Unlock()
	wasRamping := m.ramping
	m.settle()
	m.rate = rate
	if wasRamping {
		m.t0 = m.Now()
		m.ramping = true
	}
	return nil
}

// Identification returns a fixed string
func (m *Mock) Identification() (string, error) {
	return "Mock APS100", nil
}

// Close does nothing
func (m *Mock) Close() error {
	return nil
}
