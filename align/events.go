package align

import (
	"encoding/json"
	"sync"
	"time"
)

// EventKind identifies a notification from the aligner
type EventKind int

const (
	// MeasurementStarted is sent when a fresh sweep starts
	MeasurementStarted EventKind = iota
	// MeasurementContinued is sent when a stopped sweep resumes
	MeasurementContinued
	// MeasurementStopped is sent when a sweep ends early
	MeasurementStopped
	// MeasurementFinished is sent at the end of every sweep, after the device is restored
	MeasurementFinished
	// MatrixChanged is sent after a cell of the data matrix is written
	MatrixChanged
	// PositionChanged is sent after the device settles at a pathway step
	PositionChanged
	// IdleChanged is sent when the aligner enters or leaves Idle
	IdleChanged
)

var eventNames = [...]string{
	"measurement_started",
	"measurement_continued",
	"measurement_stopped",
	"measurement_finished",
	"matrix_changed",
	"position_changed",
	"idle_changed",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// MarshalText encodes the kind as its String
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one notification.  Fields not relevant to the Kind are zero.
type Event struct {
	Kind  EventKind          `json:"kind"`
	RunID string             `json:"runId"`
	Time  time.Time          `json:"time"`
	Index int                `json:"index"`
	Total int                `json:"total"`
	Cell  [2]int             `json:"cell"`
	Value float64            `json:"value"`
	Pos   map[string]float64 `json:"pos,omitempty"`
	Idle  bool               `json:"idle"`
}

// JSON encodes the event, for sinks that forward it over the wire
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives events synchronously from the sweep goroutine.  Sinks must
// not call back into the Aligner's mutating methods.
type Sink func(Event)

// broker fans events out to sinks and channel subscribers.  Slow
// subscribers miss events rather than stall the sweep.
type broker struct {
	mu    sync.Mutex
	sinks []Sink
	subs  map[int]chan Event
	next  int
}

func (b *broker) addSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *broker) subscribe(buf int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, buf)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broker) publish(e Event) {
	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks...)
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	b.mu.Unlock()
	for _, s := range sinks {
		s(e)
	}
}
