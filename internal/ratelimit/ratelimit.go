// Package ratelimit implements per-key sliding window limits for the NOUS
// product tiers: chat messages and API calls per minute, actions per day.
package ratelimit

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/nousos/nous/internal/config"
)

// Scopes with built-in rules.
const (
	ScopeChat    = "chat"
	ScopeAPI     = "api"
	ScopeActions = "actions"
	// ScopeAuthFailures counts failed sign-in attempts per client address.
	ScopeAuthFailures = "auth_failures"
)

const defaultMaxKeys = 10000 // per scope, bounds memory under address churn

// Rule allows Limit events per sliding Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Result reports the outcome of a check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RulesFromConfig maps configured limits onto scopes.
func RulesFromConfig(cfg config.LimitsConfig) map[string]Rule {
	return map[string]Rule{
		ScopeChat:         {Limit: cfg.ChatPerMinute, Window: time.Minute},
		ScopeAPI:          {Limit: cfg.APIPerMinute, Window: time.Minute},
		ScopeActions:      {Limit: cfg.DailyActions, Window: 24 * time.Hour},
		ScopeAuthFailures: {Limit: 10, Window: 5 * time.Minute},
	}
}

// Limiter tracks event times per (scope, key).
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	hits    map[string]map[string][]time.Time
	maxKeys int
	now     func() time.Time
}

// New returns a Limiter enforcing rules. Scopes without a rule, or with a
// non-positive limit, are unlimited.
func New(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		hits:    make(map[string]map[string][]time.Time),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
}

// Allow records an event for key if the scope's limit permits it.
func (l *Limiter) Allow(scope, key string) Result {
	return l.check(scope, key, true)
}

// Peek reports whether an event would be allowed without recording it.
func (l *Limiter) Peek(scope, key string) Result {
	return l.check(scope, key, false)
}

// Record counts an event regardless of the limit, e.g. a failed login.
func (l *Limiter) Record(scope, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(scope, key, l.now())
}

// Reset forgets all events of key in scope.
func (l *Limiter) Reset(scope, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits[scope], key)
}

func (l *Limiter) check(scope, key string, record bool) Result {
	rule, ok := l.rules[scope]
	if !ok || rule.Limit <= 0 {
		return Result{Allowed: true, Limit: 0, Remaining: math.MaxInt}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(scope, key, now.Add(-rule.Window))

	if len(recent) >= rule.Limit {
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: recent[len(recent)-rule.Limit].Add(rule.Window).Sub(now),
		}
	}
	if record {
		l.add(scope, key, now)
		recent = l.hits[scope][key]
	}
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - len(recent)}
}

// prune drops events older than cutoff and returns what is left.
func (l *Limiter) prune(scope, key string, cutoff time.Time) []time.Time {
	times := l.hits[scope][key]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == len(times) {
		delete(l.hits[scope], key)
		return nil
	}
	times = times[i:]
	l.hits[scope][key] = times
	return times
}

func (l *Limiter) add(scope, key string, t time.Time) {
	keys, ok := l.hits[scope]
	if !ok {
		keys = make(map[string][]time.Time)
		l.hits[scope] = keys
	}
	if _, exists := keys[key]; !exists && len(keys) >= l.maxKeys {
		l.evictOldest(keys)
	}
	keys[key] = append(keys[key], t)
}

// evictOldest drops the key whose first event is the oldest.
func (l *Limiter) evictOldest(keys map[string][]time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, times := range keys {
		if len(times) > 0 && (oldestKey == "" || times[0].Before(oldest)) {
			oldestKey = k
			oldest = times[0]
		}
	}
	if oldestKey != "" {
		delete(keys, oldestKey)
	}
}

// Cleanup removes expired events from every scope.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for scope, keys := range l.hits {
		window := l.rules[scope].Window
		for key := range keys {
			l.prune(scope, key, now.Add(-window))
		}
		if len(keys) == 0 {
			delete(l.hits, scope)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// ClientIP strips the port from a remote address.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
