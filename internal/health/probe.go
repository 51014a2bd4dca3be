package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Probe is one named dependency check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ProbeRunner re-evaluates its probes on an interval and answers readiness
// from the last completed sweep, so the readyz handler never blocks on a
// slow dependency.
type ProbeRunner struct {
	interval time.Duration
	timeout  time.Duration
	probes   []Probe

	mu      sync.RWMutex
	ready   bool
	results map[string]string
}

func NewProbeRunner(interval, timeout time.Duration, probes ...Probe) *ProbeRunner {
	return &ProbeRunner{
		interval: interval,
		timeout:  timeout,
		probes:   probes,
		results:  make(map[string]string),
	}
}

// Run sweeps until the context is cancelled.
func (r *ProbeRunner) Run(ctx context.Context) {
	r.RunOnce(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *ProbeRunner) RunOnce(ctx context.Context) {
	results := make(map[string]string, len(r.probes))
	allOk := true
	for _, p := range r.probes {
		probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := p.Check(probeCtx)
		cancel()
		if err != nil {
			results[p.Name] = err.Error()
			allOk = false
		} else {
			results[p.Name] = "ok"
		}
	}
	r.mu.Lock()
	r.ready = allOk
	r.results = results
	r.mu.Unlock()
}

func (r *ProbeRunner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

func (r *ProbeRunner) Results() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

func DatabaseProbe(db *gorm.DB) Probe {
	return Probe{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

func RedisProbe(client redis.UniversalClient) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
