// Package health serves liveness and readiness probes backed by periodic
// checks.
//
// A check flips to failing only after FailureThreshold consecutive errors and
// back to passing after SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// Probe selects which endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Check is a named, periodically executed health check.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
	Func    CheckFunc
}

type tracked struct {
	Check

	mu        sync.Mutex
	passing   bool
	lastErr   error
	failures  int
	successes int
}

func (t *tracked) record(err error, failureThreshold, successThreshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastErr = err
	if err != nil {
		t.successes = 0
		t.failures++
		if t.failures >= failureThreshold {
			t.passing = false
		}
		return
	}
	t.failures = 0
	t.successes++
	if t.successes >= successThreshold {
		t.passing = true
	}
}

// status returns an empty string for passing checks and a failure reason
// otherwise.
func (t *tracked) status() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.passing:
		return ""
	case t.lastErr != nil:
		return t.lastErr.Error()
	default:
		return "check is failing"
	}
}

// Options tunes threshold behaviour. Zero values use defaults.
type Options struct {
	FailureThreshold int
	SuccessThreshold int
}

// Monitor runs registered checks and reports their aggregate state.
type Monitor struct {
	ready            atomic.Bool
	failureThreshold int
	successThreshold int

	mu     sync.RWMutex
	checks []*tracked
}

// NewMonitor creates a Monitor. It reports not ready until SetReady(true).
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		failureThreshold: 3,
		successThreshold: 1,
	}
	if opts.FailureThreshold > 0 {
		m.failureThreshold = opts.FailureThreshold
	}
	if opts.SuccessThreshold > 0 {
		m.successThreshold = opts.SuccessThreshold
	}
	return m
}

// Register adds a check. Checks start out passing.
func (m *Monitor) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, &tracked{Check: c, passing: true})
}

func (m *Monitor) snapshot() []*tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*tracked(nil), m.checks...)
}

// Sweep executes every check once, concurrently.
func (m *Monitor) Sweep(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range m.snapshot() {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, t.Timeout)
			defer cancel()
			t.record(t.Func(checkCtx), m.failureThreshold, m.successThreshold)
			return nil
		})
	}
	_ = g.Wait()
}

// Run sweeps immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// SetReady marks the service as able (or unable) to take traffic.
func (m *Monitor) SetReady(ready bool) {
	m.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (m *Monitor) IsReady() bool {
	return m.ready.Load() && len(m.failures(Readiness)) == 0
}

func (m *Monitor) failures(p Probe) map[string]string {
	out := make(map[string]string)
	for _, t := range m.snapshot() {
		if t.Probe != p {
			continue
		}
		if reason := t.status(); reason != "" {
			out[t.Name] = reason
		}
	}
	return out
}

// Handler returns the HTTP endpoint for the given probe. It responds 200
// with {"status":"ok"} or 503 with the failing checks.
func (m *Monitor) Handler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failures := m.failures(p)
		if p == Readiness && !m.ready.Load() {
			failures["_readiness"] = "service is not ready"
		}
		writeStatus(w, failures)
	})
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	code := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		code = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
