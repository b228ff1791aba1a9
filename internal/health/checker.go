package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds readiness check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc reports whether one dependency is usable.
type ProbeFunc func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// ProbeResult is the last outcome of a named probe. Error stays in process;
// /readyz is unauthenticated and only reports pass or fail.
type ProbeResult struct {
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	Error     string    `json:"-"`
	FailCount int       `json:"fail_count"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the readiness summary served at /readyz.
type Report struct {
	Ready  bool          `json:"ready"`
	Probes []ProbeResult `json:"probes"`
}

type probe struct {
	name string
	fn   ProbeFunc
}

// HealthChecker runs named readiness probes and caches their results.
type HealthChecker struct {
	probes    []probe
	mu        sync.Mutex
	results   map[string]ProbeResult
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new HealthChecker.
func New(cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthChecker{
		results: make(map[string]ProbeResult),
		cfg:     cfg,
		logger:  logger,
	}
}

// AddProbe registers fn under name. Probes must be added before Start.
func (h *HealthChecker) AddProbe(name string, fn ProbeFunc) {
	h.probes = append(h.probes, probe{name: name, fn: fn})
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs CheckAll immediately and then every CheckInterval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently, each under ProbeTimeout.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range h.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.fn(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(err == nil)
			}
			h.record(p.name, err)
		}(p)
	}

	wg.Wait()
}

func (h *HealthChecker) record(name string, err error) {
	h.mu.Lock()
	prev := h.results[name]
	res := ProbeResult{Name: name, OK: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		res.Error = err.Error()
		res.FailCount = prev.FailCount + 1
	}
	h.results[name] = res
	h.mu.Unlock()

	switch {
	case err == nil && prev.FailCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("probe", name))
	case err != nil && res.FailCount == 1 && h.cfg.FailThreshold > 1:
		h.logger.Warn("health: probe failed", zap.String("probe", name), zap.Error(err))
	case err != nil && res.FailCount == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", res.FailCount),
			zap.Error(err),
		)
	}
}

// Report returns the cached results. The service is ready only when every
// registered probe has run and its last run succeeded.
func (h *HealthChecker) Report() Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	rep := Report{Ready: true, Probes: make([]ProbeResult, 0, len(h.probes))}
	for _, p := range h.probes {
		res, ok := h.results[p.name]
		if !ok {
			res = ProbeResult{Name: p.name, Error: "not checked yet"}
		}
		if !res.OK {
			rep.Ready = false
		}
		rep.Probes = append(rep.Probes, res)
	}
	sort.Slice(rep.Probes, func(i, j int) bool { return rep.Probes[i].Name < rep.Probes[j].Name })
	return rep
}

// LivenessHandler serves /healthz.
func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessHandler serves /readyz: 200 when ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(c *gin.Context) {
	rep := h.Report()
	status := http.StatusOK
	if !rep.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
