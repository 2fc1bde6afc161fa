package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
)

// LoadProfileOutcome buckets one claim_next_bead call by how it finished.
type LoadProfileOutcome string

const (
	outcomeSuccess LoadProfileOutcome = "success"
	outcomeEmpty   LoadProfileOutcome = "empty"
	outcomeError   LoadProfileOutcome = "error"
	outcomeTimeout LoadProfileOutcome = "timeout"
)

// LoadProfileLatencies is the {p50,p95,p99} breakdown in milliseconds.
type LoadProfileLatencies struct {
	P50Ms int64 `json:"p50"`
	P95Ms int64 `json:"p95"`
	P99Ms int64 `json:"p99"`
}

// LoadProfileRecommendation is the concurrency guidance computed from
// the round's observed pressure signals.
type LoadProfileRecommendation struct {
	MaxConnections int    `json:"swarm_db_max_connections"`
	AgentCap       int    `json:"agent_concurrency_cap"`
	Reason         string `json:"reason"`
}

// LoadProfileResult is the payload of a load-profile call.
type LoadProfileResult struct {
	Agents            int                       `json:"agents"`
	Rounds            int                       `json:"rounds"`
	Timeouts          int                       `json:"timeouts"`
	Errors            int                       `json:"errors"`
	SuccessfulClaims  int                       `json:"successful_claims"`
	EmptyClaims       int                       `json:"empty_claims"`
	LatencyMs         LoadProfileLatencies      `json:"latency_ms"`
	MaxInFlight       int                       `json:"max_in_flight"`
	Recommended       LoadProfileRecommendation `json:"recommended"`
}

// LoadProfile seeds agents idle agents, enqueues agents*rounds synthetic
// beads, then runs rounds rounds of agents concurrent claim attempts
// each, recording latency and bucketing outcomes as a plain iterative
// loop rather than a recursive round-runner.
func (s *Services) LoadProfile(ctx context.Context, repoID shared.RepoID, agents, rounds int, timeoutMs int64) (LoadProfileResult, error) {
	if agents <= 0 || rounds <= 0 {
		return LoadProfileResult{}, shared.NewInvariantViolation("load-profile requires agents>0 and rounds>0")
	}

	agentIDs, err := s.ports.Agents.Register(ctx, repoID, agents)
	if err != nil {
		return LoadProfileResult{}, fmt.Errorf("services: load-profile: seed agents: %w", err)
	}

	batch := uuid.New().String()
	for i := 0; i < agents*rounds; i++ {
		beadID := shared.BeadID(fmt.Sprintf("load-%s-%d", batch, i))
		if err := s.ports.Backlog.Enqueue(ctx, repoID, beadID, 0); err != nil {
			return LoadProfileResult{}, fmt.Errorf("services: load-profile: enqueue: %w", err)
		}
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultLeaseExtension
	}

	var (
		successful, empty, errs, timeouts int64
		inFlight, maxInFlight             int64
		latencies                         []int64
		mu                                sync.Mutex
	)

	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		for i := 0; i < agents; i++ {
			agentID := agentIDs[i]
			wg.Add(1)
			go func() {
				defer wg.Done()

				current := atomic.AddInt64(&inFlight, 1)
				for {
					prevMax := atomic.LoadInt64(&maxInFlight)
					if current <= prevMax || atomic.CompareAndSwapInt64(&maxInFlight, prevMax, current) {
						break
					}
				}
				defer atomic.AddInt64(&inFlight, -1)

				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				start := time.Now()
				_, ok, err := s.ports.Claims.ClaimNext(callCtx, agentID, DefaultLeaseExtension)
				elapsed := time.Since(start).Milliseconds()

				outcome := classifyLoadProfileOutcome(ok, err, callCtx)
				mu.Lock()
				switch outcome {
				case outcomeSuccess:
					atomic.AddInt64(&successful, 1)
					latencies = append(latencies, elapsed)
				case outcomeEmpty:
					atomic.AddInt64(&empty, 1)
					latencies = append(latencies, elapsed)
				case outcomeError:
					atomic.AddInt64(&errs, 1)
				case outcomeTimeout:
					atomic.AddInt64(&timeouts, 1)
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	percentiles := computePercentiles(latencies)
	recommendation := recommendLimits(agents, int(timeouts), int(errs), percentiles.P95Ms)

	return LoadProfileResult{
		Agents:           agents,
		Rounds:           rounds,
		Timeouts:         int(timeouts),
		Errors:           int(errs),
		SuccessfulClaims: int(successful),
		EmptyClaims:      int(empty),
		LatencyMs:        percentiles,
		MaxInFlight:      int(maxInFlight),
		Recommended:      recommendation,
	}, nil
}

func classifyLoadProfileOutcome(claimed bool, err error, callCtx context.Context) LoadProfileOutcome {
	if callCtx.Err() == context.DeadlineExceeded {
		return outcomeTimeout
	}
	if err != nil {
		return outcomeError
	}
	if claimed {
		return outcomeSuccess
	}
	return outcomeEmpty
}

// computePercentiles uses nearest-rank selection: sort, then index at
// (len-1)*pct/100, iterative and allocation-light.
func computePercentiles(values []int64) LoadProfileLatencies {
	if len(values) == 0 {
		return LoadProfileLatencies{}
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	at := func(pct int) int64 {
		idx := (n - 1) * pct / 100
		return sorted[idx]
	}
	return LoadProfileLatencies{P50Ms: at(50), P95Ms: at(95), P99Ms: at(99)}
}

// recommendLimits throttles when any pressure signal fires, otherwise
// recommends the observed agent count.
func recommendLimits(agents, timeouts, errors int, p95Ms int64) LoadProfileRecommendation {
	degraded := timeouts > 0 || errors > 0 || p95Ms > 300
	if degraded {
		return LoadProfileRecommendation{
			MaxConnections: maxInt(agents/6, 8),
			AgentCap:       maxInt(agents*2/3, 8),
			Reason:         "timeouts/errors/high p95 detected; reduce concurrency and pool pressure",
		}
	}
	return LoadProfileRecommendation{
		MaxConnections: maxInt(agents/4, 8),
		AgentCap:       agents,
		Reason:         "no pressure signals detected under test load",
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
