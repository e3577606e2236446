package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/util"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// LimitSource returns the present limits of an axis, ok is false if the
// axis is unlimited
type LimitSource interface {
	AxisLimits(string) (util.Limiter, bool)
}

// StaticLimits is a LimitSource that never changes
type StaticLimits map[string]util.Limiter

// AxisLimits implements LimitSource
func (s StaticLimits) AxisLimits(axis string) (util.Limiter, bool) {
	l, ok := s[axis]
	return l, ok
}

// LimitMiddleware is a type that can impose axis-specific limits on motion
// it returns a boolean "notOK" that indicates if the limit would be violated
// by a motion, stopping the chain of handling calls
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller.
	// They are queried on every request, so may depend on device state
	Limits LimitSource

	// Mov is a reference to the mover, used to query axis positions
	Mov Mover
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pos") || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		// get the axis to move, and if the motion is relative
		axis, relative, err := axisAndRelative(r)
		if axis == "" {
			// mounted outside a chi route, take the axis from the path
			parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
			if len(parts) >= 2 {
				axis = parts[len(parts)-2]
			}
		}
		// bail as early as possible if we don't have a limit for this axis
		limiter, ok := l.Limits.AxisLimits(axis)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// downstream functions want the body too, read it all here and put it back
		f := generichttp.FloatT{}
		bodyContent, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(bodyContent))
		err = json.Unmarshal(bodyContent, &f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if relative {
			// in the relative case, shift the command by currPos
			currPos, err := l.Mov.GetPos(axis)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += currPos
		}
		if !limiter.Check(cmd) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis,
// null if it has none
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		lim, ok := l.Limits.AxisLimits(axis)
		if !ok {
			generichttp.Reply(w, nil)
			return
		}
		generichttp.Reply(w, lim)
	}
}
