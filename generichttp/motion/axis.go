package motion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/vectormagnet/generichttp"
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error

	// Home returns an axis to its reference, zero field for a magnet
	Home(string) error
}

// Stopper halts one axis
type Stopper interface {
	Stop(string) error
}

// Speeder describes an interface with velocity-related methods for axes
type Speeder interface {
	SetVelocity(string, float64) error
	GetVelocity(string) (float64, error)
}

// InPositionQueryer reports whether an axis has finished its move
type InPositionQueryer interface {
	GetInPosition(string) (bool, error)
}

// AxisChecker is optionally implemented by controllers with a fixed set of
// axis names.  Requests for any other axis are answered 404.
type AxisChecker interface {
	HasAxis(string) bool
}

// badRequest marks errors in the request itself
type badRequest struct{ err error }

func (b badRequest) Error() string   { return b.err.Error() }
func (b badRequest) Unwrap() error   { return b.err }
func (b badRequest) StatusCode() int { return http.StatusBadRequest }

// axisAndRelative pulls the axis URL parameter and the ?relative flag
func axisAndRelative(r *http.Request) (string, bool, error) {
	axis := chi.URLParam(r, "axis")
	q := r.URL.Query().Get("relative")
	if q == "" {
		return axis, false, nil
	}
	rel, err := strconv.ParseBool(q)
	if err != nil {
		return axis, false, badRequest{fmt.Errorf("relative: %w", err)}
	}
	return axis, rel, nil
}

func decodeFloat(r *http.Request) (float64, error) {
	f := generichttp.FloatT{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		return 0, badRequest{err}
	}
	return f.F64, nil
}

// axisRoute adapts fn to a handler.  A nil reply from fn is answered with an
// empty 200.
type axisRoute func(r *http.Request, axis string) (interface{}, error)

func (c binder) handle(fn axisRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		if c.known != nil && !c.known.HasAxis(axis) {
			http.Error(w, fmt.Sprintf("no axis %q", axis), http.StatusNotFound)
			return
		}
		v, err := fn(r, axis)
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusOf(err))
			return
		}
		if v == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		generichttp.Reply(w, v)
	}
}

type binder struct {
	known AxisChecker
	table generichttp.RouteTable
}

func (c binder) add(method, path string, fn axisRoute) {
	c.table[generichttp.MethodPath{Method: method, Path: "/axis/{axis}/" + path}] = c.handle(fn)
}

func (c binder) mover(m Mover) {
	c.add(http.MethodGet, "pos", func(r *http.Request, axis string) (interface{}, error) {
		p, err := m.GetPos(axis)
		return generichttp.FloatT{F64: p}, err
	})
	c.add(http.MethodPost, "pos", func(r *http.Request, axis string) (interface{}, error) {
		_, rel, err := axisAndRelative(r)
		if err != nil {
			return nil, err
		}
		f, err := decodeFloat(r)
		if err != nil {
			return nil, err
		}
		if rel {
			return nil, m.MoveRel(axis, f)
		}
		return nil, m.MoveAbs(axis, f)
	})
	c.add(http.MethodPost, "home", func(r *http.Request, axis string) (interface{}, error) {
		return nil, m.Home(axis)
	})
}

func (c binder) stopper(s Stopper) {
	c.add(http.MethodPost, "stop", func(r *http.Request, axis string) (interface{}, error) {
		return nil, s.Stop(axis)
	})
}

func (c binder) speeder(s Speeder) {
	c.add(http.MethodGet, "velocity", func(r *http.Request, axis string) (interface{}, error) {
		v, err := s.GetVelocity(axis)
		return generichttp.FloatT{F64: v}, err
	})
	c.add(http.MethodPost, "velocity", func(r *http.Request, axis string) (interface{}, error) {
		f, err := decodeFloat(r)
		if err != nil {
			return nil, err
		}
		return nil, s.SetVelocity(axis, f)
	})
}

func (c binder) inPosition(q InPositionQueryer) {
	c.add(http.MethodGet, "inposition", func(r *http.Request, axis string) (interface{}, error) {
		b, err := q.GetInPosition(axis)
		return generichttp.BoolT{Bool: b}, err
	})
}
