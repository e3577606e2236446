// Package alignment exposes an alignment sweep over HTTP
package alignment

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.com/nasa-jpl/vectormagnet/align"
	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/pathway"
	"github.com/nasa-jpl/vectormagnet/save"
	"github.com/nasa-jpl/vectormagnet/server"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	eventBuf   = 256
)

// HTTPAligner holds an aligner and its route table
type HTTPAligner struct {
	A *align.Aligner

	// Dev is aborted by /align/stop?abort=true
	Dev align.Device

	// Store persists sweeps for /align/save, nil disables saving
	Store *save.Store

	// Ctx bounds sweeps started over HTTP.  Requests end long before a
	// sweep does, so their contexts are not used.
	Ctx context.Context

	RouteTable generichttp.RouteTable

	upgrader websocket.Upgrader
}

// NewHTTPAligner returns a new HTTP wrapper for a
func NewHTTPAligner(ctx context.Context, a *align.Aligner, dev align.Device, store *save.Store) *HTTPAligner {
	h := &HTTPAligner{
		A:          a,
		Dev:        dev,
		Store:      store,
		Ctx:        ctx,
		RouteTable: generichttp.RouteTable{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	rt := h.RouteTable
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/sweep"}] = h.GetSweep
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/sweep"}] = h.SetSweep
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/start"}] = h.start(false)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/continue"}] = h.start(true)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/stop"}] = h.Stop
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/progress"}] = h.GetProgress
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/matrix"}] = h.GetMatrix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/matrix.fits"}] = h.GetFITS
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/heatmap.png"}] = h.GetHeatmap
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/result"}] = h.GetResult
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/save"}] = h.Save
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/catalog"}] = h.GetCatalog
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/files/{name}"}] = h.GetFile
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/optimize-freq"}] = generichttp.GetFloat(func() (float64, error) {
		return a.OptimizeFreq(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/align/optimize-freq"}] = generichttp.SetFloat(func(f float64) error {
		a.SetOptimizeFreq(f)
		return nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/align/events"}] = h.Events
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPAligner) RT() generichttp.RouteTable {
	return h.RouteTable
}

func status(err error) int {
	switch {
	case errors.Is(err, align.ErrBusy), errors.Is(err, align.ErrNothingToContinue):
		return http.StatusConflict
	case errors.Is(err, align.ErrMixedAxes),
		errors.Is(err, pathway.ErrAxis),
		errors.Is(err, pathway.ErrRange),
		errors.Is(err, pathway.ErrStep),
		errors.Is(err, pathway.ErrStart),
		errors.Is(err, pathway.ErrModeNotImplemented):
		return http.StatusBadRequest
	}
	return generichttp.StatusOf(err)
}

// GetSweep replies with the sweep geometry
func (h *HTTPAligner) GetSweep(w http.ResponseWriter, r *http.Request) {
	generichttp.Reply(w, h.A.Sweep())
}

// SetSweep sets the sweep geometry from a JSON body
func (h *HTTPAligner) SetSweep(w http.ResponseWriter, r *http.Request) {
	s := pathway.Sweep{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, _, err = pathway.Shape(s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.A.SetSweep(s); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPAligner) start(cont bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := h.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := h.A.Start(ctx, cont); err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		generichttp.Reply(w, h.A.Progress())
	}
}

// Stop asks the sweep to stop.  ?abort=true also stops the device at once.
func (h *HTTPAligner) Stop(w http.ResponseWriter, r *http.Request) {
	h.A.Stop()
	if r.URL.Query().Get("abort") == "true" && h.Dev != nil {
		if err := h.Dev.Abort(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// GetProgress replies with the sweep's progress
func (h *HTTPAligner) GetProgress(w http.ResponseWriter, r *http.Request) {
	generichttp.Reply(w, h.A.Progress())
}

func (h *HTTPAligner) result(w http.ResponseWriter) (align.Result, bool) {
	res, ok := h.A.Result()
	if !ok {
		http.Error(w, "no sweep has been run", http.StatusNotFound)
	}
	return res, ok
}

// matrixT is the JSON form of the data matrix
type matrixT struct {
	RunID   string      `json:"runId"`
	Axis0   string      `json:"axis0Name"`
	Axis1   string      `json:"axis1Name"`
	Values0 []float64   `json:"axis0"`
	Values1 []float64   `json:"axis1"`
	Data    [][]float64 `json:"data"`
	Filled  int         `json:"filled"`
	Total   int         `json:"total"`
}

// GetMatrix replies with the data matrix as nested rows, one per axis0 value
func (h *HTTPAligner) GetMatrix(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w)
	if !ok {
		return
	}
	rows, _ := res.Data.Dims()
	data := make([][]float64, rows)
	for i := range data {
		data[i] = append([]float64(nil), res.Data.RawRowView(i)...)
	}
	generichttp.Reply(w, matrixT{
		RunID:   res.RunID,
		Axis0:   res.Sweep.Axis0.Name,
		Axis1:   res.Sweep.Axis1.Name,
		Values0: res.Axis0,
		Values1: res.Axis1,
		Data:    data,
		Filled:  res.Filled,
		Total:   len(res.Pathway),
	})
}

// GetResult replies with the sweep record: pathway, backmap, reached positions
func (h *HTTPAligner) GetResult(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w)
	if !ok {
		return
	}
	generichttp.Reply(w, save.ParamsOf(res))
}

// GetFITS replies with the data matrix as a FITS file
func (h *HTTPAligner) GetFITS(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", `attachment; filename="`+save.Label(res, "")+`_matrix.fits"`)
	if err := save.WriteFITS(w, res); err != nil {
		log.Printf("alignment: writing FITS: %v", err)
	}
}

// GetHeatmap replies with a PNG of the data matrix
func (h *HTTPAligner) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := save.WriteHeatmap(w, res); err != nil {
		log.Printf("alignment: writing heatmap: %v", err)
	}
}

// Save writes the present result to the store, tagged with the optional
// {"str": tag} body, and replies with the files written
func (h *HTTPAligner) Save(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		http.Error(w, "saving is not configured", http.StatusNotImplemented)
		return
	}
	tag := generichttp.StrT{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&tag)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	res, ok := h.result(w)
	if !ok {
		return
	}
	files, err := h.Store.Save(res, tag.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.Reply(w, files)
}

// GetCatalog replies with every saved sweep
func (h *HTTPAligner) GetCatalog(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Store.Catalog == nil {
		generichttp.Reply(w, []save.Entry{})
		return
	}
	entries, err := h.Store.Catalog.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.Reply(w, entries)
}

// GetFile serves a saved file by its base name
func (h *HTTPAligner) GetFile(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		http.Error(w, "saving is not configured", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, chi.URLParam(r, "name"), h.Store.Dir)
}

// Events streams aligner events over a websocket as JSON, one per message.
// A client that falls behind misses events.
func (h *HTTPAligner) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("alignment: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	events, cancel := h.A.Subscribe(eventBuf)
	defer cancel()

	// reads only serve to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("alignment: websocket read: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
