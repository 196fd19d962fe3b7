package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregated readiness of the service.
type Status string

const (
	// Healthy: every probe passed.
	Healthy Status = "ok"
	// Degraded: the vector index answers but an auxiliary probe failed.
	Degraded Status = "degraded"
	// Unhealthy: the vector index is unreachable; no tagging operation can succeed.
	Unhealthy Status = "error"
)

// CheckResult is the outcome of one probe.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Check names.
const (
	CheckVectorIndex = "vector_index"
	CheckEmbedding   = "embedding"
)

// DefaultTimeout bounds each probe.
const DefaultTimeout = 2 * time.Second

// Report aggregates probe results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service runs readiness probes.
type Service struct {
	index     Pinger
	embedding Prober
	timeout   time.Duration
}

// New creates a Service. embedding may be nil; timeout <= 0 uses DefaultTimeout.
func New(index Pinger, embedding Prober, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{index: index, embedding: embedding, timeout: timeout}
}

// Check probes every collaborator concurrently.
func (s *Service) Check(ctx context.Context) Report {
	probes := map[string]func(context.Context) error{CheckVectorIndex: s.index.Ping}
	if s.embedding != nil {
		probes[CheckEmbedding] = s.embedding.HealthCheck
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := CheckOK
			if err := probe(pctx); err != nil {
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
		}
	}
	if checks[CheckVectorIndex] == CheckError {
		status = Unhealthy
	}
	return Report{Status: status, Checks: checks}
}
