// Package dbresolve resolves a usable Postgres connection from an ordered
// list of candidate URLs, each tried under its own bounded timeout, and
// masks passwords before any candidate appears in an error context.
package dbresolve

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 3000 * time.Millisecond
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = 30000 * time.Millisecond
)

// ClampTimeout enforces the [100ms, 30000ms] bound for both the default
// and any caller-supplied override.
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// TimeoutFromRequest resolves the per-candidate connect timeout: an
// explicit override, else the SWARM_DB_CONNECT_TIMEOUT_MS environment
// variable, else DefaultTimeout. Override and environment values are
// clamped with ClampTimeout.
func TimeoutFromRequest(overrideMs *int64) time.Duration {
	if overrideMs != nil {
		return ClampTimeout(time.Duration(*overrideMs) * time.Millisecond)
	}
	if raw := os.Getenv("SWARM_DB_CONNECT_TIMEOUT_MS"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return ClampTimeout(time.Duration(ms) * time.Millisecond)
		}
	}
	return DefaultTimeout
}

// ComposeCandidates builds the ordered, deduped candidate list: an
// explicit request-level URL first (if non-empty after trimming), then
// each discovered candidate not already present.
func ComposeCandidates(explicit string, discovered []string) []string {
	candidates := make([]string, 0, len(discovered)+1)
	trimmed := strings.TrimSpace(explicit)
	if trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	for _, c := range discovered {
		found := false
		for _, existing := range candidates {
			if existing == c {
				found = true
				break
			}
		}
		if !found {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// DiscoveryChain returns the environment-derived candidate list: just
// DATABASE_URL today. A secrets-backend lookup is a natural extension
// point but none is wired in this deployment.
func DiscoveryChain() []string {
	if v := os.Getenv("DATABASE_URL"); strings.TrimSpace(v) != "" {
		return []string{v}
	}
	return nil
}

// Mask redacts a URL's password, matching the net/url userinfo model.
// An unparsable URL becomes the literal "<invalid-database-url>" so it
// never leaks into logs or error context unmasked.
func Mask(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid-database-url>"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "********")
		}
	}
	return parsed.String()
}

// ConnectResult is the first candidate that pinged successfully: its open
// pool and its unmasked URL.
type ConnectResult struct {
	DB  *sql.DB
	URL string
}

// TryConnectCandidates attempts each candidate in order under timeout,
// returning the first that pings successfully plus the masked failure
// strings for every candidate that did not.
func TryConnectCandidates(ctx context.Context, candidates []string, timeout time.Duration) (*ConnectResult, []string) {
	var failures []string
	for _, candidate := range candidates {
		db, err := sql.Open("postgres", candidate)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", Mask(candidate), err))
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			failures = append(failures, fmt.Sprintf("%s: %s", Mask(candidate), err))
			continue
		}

		return &ConnectResult{DB: db, URL: candidate}, failures
	}
	return nil, failures
}

// MaskAll masks every candidate, for inclusion in an error ctx.
func MaskAll(candidates []string) []string {
	masked := make([]string, len(candidates))
	for i, c := range candidates {
		masked[i] = Mask(c)
	}
	return masked
}
