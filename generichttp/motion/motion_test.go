package motion_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/generichttp/motion"
	"github.com/nasa-jpl/vectormagnet/util"
)

// stage is a two axis controller that moves instantly
type stage struct {
	mu  sync.Mutex
	pos map[string]float64
	vel map[string]float64
}

func newStage() *stage {
	return &stage{pos: map[string]float64{"x": 0, "y": 0}, vel: map[string]float64{}}
}

var errAxis = errors.New("no such axis")

func (s *stage) GetPos(a string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[a]
	if !ok {
		return 0, errAxis
	}
	return p, nil
}

func (s *stage) MoveAbs(a string, p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[a] = p
	return nil
}

func (s *stage) MoveRel(a string, d float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[a] += d
	return nil
}

func (s *stage) Home(a string) error                   { return s.MoveAbs(a, 0) }
func (s *stage) Stop(string) error                     { return nil }
func (s *stage) GetInPosition(string) (bool, error)    { return true, nil }
func (s *stage) GetVelocity(a string) (float64, error) { return s.vel[a], nil }
func (s *stage) SetVelocity(a string, v float64) error { s.vel[a] = v; return nil }

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func router(s *stage, lim motion.LimitSource) http.Handler {
	rt := generichttp.RouteTable{}
	motion.Bind(s, rt)
	lm := motion.LimitMiddleware{Limits: lim, Mov: s}
	lm.Inject(table(rt))
	r := chi.NewRouter()
	r.Use(lm.Check)
	rt.Bind(r)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestBindFindsEveryInterface(t *testing.T) {
	rt := generichttp.RouteTable{}
	assert.Equal(t, 4, motion.Bind(newStage(), rt))
	assert.Contains(t, rt.Endpoints(), "POST /axis/{axis}/velocity")
	assert.Contains(t, rt.Endpoints(), "GET /axis/{axis}/inposition")
}

func TestMoveRoutes(t *testing.T) {
	s := newStage()
	h := router(s, motion.StaticLimits{"x": util.Limiter{Min: -1, Max: 1}})

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/x/pos", `{"f64": 0.5}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/x/pos?relative=true", `{"f64": 0.25}`).Code)
	w := do(h, http.MethodGet, "/axis/x/pos", "")
	assert.JSONEq(t, `{"f64": 0.75}`, w.Body.String())

	// 0.75 + 0.5 leaves the limits
	w = do(h, http.MethodPost, "/axis/x/pos?relative=true", `{"f64": 0.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	p, _ := s.GetPos("x")
	assert.Equal(t, 0.75, p)

	// y is unlimited
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/y/pos", `{"f64": 50}`).Code)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/x/home", "").Code)
	p, _ = s.GetPos("x")
	assert.Equal(t, 0., p)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/axis/y/pos?relative=maybe", `{"f64": 1}`).Code)
}

func TestLimitsRoute(t *testing.T) {
	h := router(newStage(), motion.StaticLimits{"x": util.Limiter{Min: -1, Max: 1}})
	assert.JSONEq(t, `{"min": -1, "max": 1}`, do(h, http.MethodGet, "/axis/x/limits", "").Body.String())
	assert.JSONEq(t, `null`, do(h, http.MethodGet, "/axis/y/limits", "").Body.String())
}

func TestVelocityAndInPosition(t *testing.T) {
	s := newStage()
	h := router(s, motion.StaticLimits{})
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/x/velocity", `{"f64": 0.01}`).Code)
	assert.JSONEq(t, `{"f64": 0.01}`, do(h, http.MethodGet, "/axis/x/velocity", "").Body.String())
	assert.JSONEq(t, `{"bool": true}`, do(h, http.MethodGet, "/axis/x/inposition", "").Body.String())
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/axis/x/stop", "").Code)
}

type namedStage struct{ *stage }

func (n namedStage) HasAxis(a string) bool { return a == "x" || a == "y" }

func TestUnknownAxis(t *testing.T) {
	rt := generichttp.RouteTable{}
	motion.Bind(namedStage{newStage()}, rt)
	r := chi.NewRouter()
	rt.Bind(r)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/axis/w/pos", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/axis/w/stop", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/axis/y/pos", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/axis/y/velocity", "not json").Code)
}
