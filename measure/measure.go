/*Package measure contains measurement and optimizer collaborators of the aligner
that talk to other lab servers over HTTP.

A Counter reads a scalar route, e.g. a photodiode or power meter served with
generichttp, repeatedly for an integration time and reports the mean.  A
Trigger POSTs to a route that runs an optimization, such as a fiber peak-up,
and returns when it answers.
*/
package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultIntegration is used when a Counter has no integration time
	DefaultIntegration = time.Second

	// DefaultSampleRate is used when a Counter has no sample rate, in Hz
	DefaultSampleRate = 10.
)

// ErrNoSamples is returned when an integration collected nothing
var ErrNoSamples = errors.New("no samples were collected")

// StatusError is returned when the remote server answers with a non-200 code
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, e.Body)
}

// reading is the generichttp float payload
type reading struct {
	F64 *float64 `json:"f64"`
}

// Counter integrates a scalar HTTP route
type Counter struct {
	// URL is a GET route returning {"f64": value}
	URL string

	// Integration is the length of one measurement
	Integration time.Duration

	// SampleRate is the number of reads per second
	SampleRate float64

	// Client is used for the requests, http.DefaultClient if nil
	Client *http.Client
}

func (c Counter) client() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

func (c Counter) sample(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, StatusError{URL: c.URL, Code: resp.StatusCode, Body: string(b)}
	}
	var r reading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, errors.Wrap(err, "decoding counter reading")
	}
	if r.F64 == nil {
		return 0, errors.Errorf("%s: reply has no f64 field", c.URL)
	}
	return *r.F64, nil
}

// Measure samples the counter for the integration time and returns the
// mean.  meta holds integration_time (s), samples and std.
func (c Counter) Measure(ctx context.Context) (float64, map[string]interface{}, error) {
	integ := c.Integration
	if integ <= 0 {
		integ = DefaultIntegration
	}
	hz := c.SampleRate
	if hz <= 0 {
		hz = DefaultSampleRate
	}
	lim := rate.NewLimiter(rate.Limit(hz), 1)
	deadline := time.Now().Add(integ)
	var xs []float64
	for {
		if err := lim.Wait(ctx); err != nil {
			return 0, nil, err
		}
		if len(xs) > 0 && time.Now().After(deadline) {
			break
		}
		v, err := c.sample(ctx)
		if err != nil {
			return 0, nil, errors.Wrapf(err, "sample %d", len(xs))
		}
		xs = append(xs, v)
	}
	if len(xs) == 0 {
		return 0, nil, ErrNoSamples
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		std = 0
	}
	meta := map[string]interface{}{
		"integration_time": integ.Seconds(),
		"samples":          len(xs),
		"std":              std,
	}
	return mean, meta, nil
}

// Trigger runs a remote optimizer
type Trigger struct {
	// URL is a POST route that returns 200 when the optimization is done
	URL string

	// Client is used for the request, http.DefaultClient if nil
	Client *http.Client

	// MaxElapsed bounds retries of connection failures, 0 does not retry
	MaxElapsed time.Duration
}

func (t Trigger) post(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	cl := t.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	resp, err := cl.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// the server answered; retrying will not change its mind
		return backoff.Permanent(StatusError{URL: t.URL, Code: resp.StatusCode, Body: string(b)})
	}
	return nil
}

// Optimize POSTs to the trigger URL and waits for the answer
func (t Trigger) Optimize(ctx context.Context) error {
	if t.MaxElapsed <= 0 {
		err := t.post(ctx)
		if p, ok := err.(*backoff.PermanentError); ok {
			return p.Err
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = t.MaxElapsed
	err := backoff.Retry(func() error { return t.post(ctx) }, backoff.WithContext(b, ctx))
	if p, ok := err.(*backoff.PermanentError); ok {
		return p.Err
	}
	return err
}
