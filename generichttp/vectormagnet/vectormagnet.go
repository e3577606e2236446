// Package vectormagnet exposes a vector magnet over HTTP.
//
// Each axis is served as a motion controller axis at /axis/{axis}/..., and
// the magnet as a whole under /vector/...
package vectormagnet

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/vectormagnet/constraint"
	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/generichttp/motion"
	"github.com/nasa-jpl/vectormagnet/magnet"
)

// HTTPMagnet holds a magnet and its route table
type HTTPMagnet struct {
	M *magnet.Magnet

	// Limit checks per-axis moves against the magnet's present constraints
	Limit motion.LimitMiddleware

	RouteTable generichttp.RouteTable
}

// NewHTTPMagnet returns a new HTTP wrapper for m
func NewHTTPMagnet(m *magnet.Magnet) *HTTPMagnet {
	h := &HTTPMagnet{
		M:          m,
		Limit:      motion.LimitMiddleware{Limits: m, Mov: m},
		RouteTable: generichttp.RouteTable{},
	}
	rt := h.RouteTable
	motion.Bind(m, rt)
	h.Limit.Inject(h)

	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/pos"}] = h.GetPos
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/vector/pos"}] = h.SetPos
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/status"}] = h.GetStatus
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/vector/abort"}] = h.Abort
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/mode"}] = generichttp.GetString(func() (string, error) {
		return m.Mode().String(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/vector/mode"}] = h.SetMode
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/constraints"}] = h.GetConstraints
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/maxradius"}] = h.GetMaxRadius
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/vector/calibrate"}] = h.Calibrate
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/velocity"}] = h.GetVelocity
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vector/supplies"}] = h.GetSupplies
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPMagnet) RT() generichttp.RouteTable {
	return h.RouteTable
}

// status maps magnet errors to HTTP codes
func status(err error) int {
	switch {
	case errors.Is(err, magnet.ErrAxis), errors.Is(err, magnet.ErrMixedCoordinates):
		return http.StatusBadRequest
	case errors.Is(err, constraint.ErrMode):
		return http.StatusBadRequest
	}
	return generichttp.StatusOf(err)
}

// GetPos replies with every axis, or those named by repeated ?axis= queries
func (h *HTTPMagnet) GetPos(w http.ResponseWriter, r *http.Request) {
	pos, err := h.M.Pos(r.URL.Query()["axis"]...)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	generichttp.Reply(w, pos)
}

// SetPos moves to the axes in the JSON object body, e.g. {"x": 0.1, "z": 2}.
// With ?relative=true the values are offsets.
func (h *HTTPMagnet) SetPos(w http.ResponseWriter, r *http.Request) {
	relative := false
	if q := r.URL.Query().Get("relative"); q != "" {
		var err error
		relative, err = strconv.ParseBool(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	target := map[string]float64{}
	err := json.NewDecoder(r.Body).Decode(&target)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if relative {
		err = h.M.MoveBy(target)
	} else {
		err = h.M.MoveTo(target)
	}
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetStatus replies with whether each axis is moving
func (h *HTTPMagnet) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.M.Status(r.URL.Query()["axis"]...)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	generichttp.Reply(w, st)
}

// Abort pauses every supply
func (h *HTTPMagnet) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.M.Abort(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetMode switches the operating mode from {"str": "z_focused"}
func (h *HTTPMagnet) SetMode(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := constraint.ParseMode(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.M.SetMode(mode); err != nil {
		// refused because of where the field is now
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetConstraints replies with the range of every axis
func (h *HTTPMagnet) GetConstraints(w http.ResponseWriter, r *http.Request) {
	c, err := h.M.Constraints()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.Reply(w, c)
}

// GetMaxRadius replies with the largest |B| along ?theta=&phi= (rad).
// Missing angles default to the present direction.
func (h *HTTPMagnet) GetMaxRadius(w http.ResponseWriter, r *http.Request) {
	pos, err := h.M.Pos("theta", "phi")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	for _, k := range []string{"theta", "phi"} {
		if s := q.Get(k); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			pos[k] = f
		}
	}
	generichttp.Reply(w, generichttp.FloatT{F64: h.M.MaxRadius(pos["theta"], pos["phi"])})
}

type axesT struct {
	Axes []string `json:"axes"`
}

// Calibrate ramps the axes in {"axes": [...]} to zero; an empty body zeros all
func (h *HTTPMagnet) Calibrate(w http.ResponseWriter, r *http.Request) {
	a := axesT{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&a)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.M.Calibrate(a.Axes...); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetVelocity replies with the ramp rate of each supply
func (h *HTTPMagnet) GetVelocity(w http.ResponseWriter, r *http.Request) {
	v, err := h.M.Velocity()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.Reply(w, v)
}

// GetSupplies replies with the state of each supply by name
func (h *HTTPMagnet) GetSupplies(w http.ResponseWriter, r *http.Request) {
	st, err := h.M.SupplyStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make(map[string]string, len(st))
	for k, v := range st {
		out[k] = v.String()
	}
	generichttp.Reply(w, out)
}
