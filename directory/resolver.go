package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/yairfalse/arbiter/telemetry"
)

// Step is one query in a lookup plan, tagged with the method it reports on success
type Step struct {
	Method Method
	Query  Query
}

// Cache memoizes outcomes for the lifetime of one extraction run
type Cache struct {
	mu      sync.Mutex
	entries map[string]Outcome
	hits    int
	misses  int
}

// NewCache creates an empty run-scoped cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Outcome)}
}

// Get returns a cached outcome
func (c *Cache) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return o, ok
}

// Put stores an outcome
func (c *Cache) Put(key string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = o
}

// Len returns the number of cached outcomes
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitRate returns cache hits as a percentage of lookups
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// Stats counts outcomes by method
type Stats struct {
	Total    int            `json:"total"`
	ByMethod map[Method]int `json:"by_method"`
}

// NewStats creates empty statistics
func NewStats() Stats {
	return Stats{ByMethod: make(map[Method]int)}
}

// Record counts one outcome
func (s *Stats) Record(o Outcome) {
	if s.ByMethod == nil {
		s.ByMethod = make(map[Method]int)
	}
	s.Total++
	s.ByMethod[MethodOf(o)]++
}

// Successful returns the number of resolved identifiers
func (s Stats) Successful() int {
	n := 0
	for method, count := range s.ByMethod {
		switch method {
		case MethodFailed, MethodError, MethodSkipped:
		default:
			n += count
		}
	}
	return n
}

// SuccessRate returns resolved identifiers as a percentage of all processed
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful()) / float64(s.Total) * 100
}

// Resolver runs lookup plans against a client, consulting a run cache first
type Resolver struct {
	client Client
	cache  *Cache
	logger *telemetry.Logger

	mu    sync.Mutex
	stats Stats
}

// NewResolver creates a resolver. A nil client makes every lookup Skipped.
func NewResolver(client Client, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		client: client,
		cache:  cache,
		logger: telemetry.NewLogger("directory"),
		stats:  NewStats(),
	}
}

// Resolve runs steps in order and stops at the first meaningful entry
func (r *Resolver) Resolve(ctx context.Context, steps []Step) Outcome {
	outcome := r.resolve(ctx, steps)

	r.mu.Lock()
	r.stats.Record(outcome)
	r.mu.Unlock()

	telemetry.RecordDirectoryLookup(ctx, string(MethodOf(outcome)))
	return outcome
}

func (r *Resolver) resolve(ctx context.Context, steps []Step) Outcome {
	if r.client == nil {
		return Skipped{Reason: "directory not configured"}
	}
	if len(steps) == 0 {
		return Skipped{Reason: "no identifiers"}
	}

	key := planKey(steps)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	outcome := r.runSteps(ctx, steps)
	if _, isErr := outcome.(Errored); !isErr {
		r.cache.Put(key, outcome)
	}
	return outcome
}

// runSteps tries each step; an error on one step moves on to the next
func (r *Resolver) runSteps(ctx context.Context, steps []Step) Outcome {
	var lastErr error

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Errored{Err: err}
		}

		entry, ok, err := r.client.Search(ctx, step.Query)
		if err != nil {
			r.logger.WithContext(ctx).Warn().
				Err(err).
				Str("filter", step.Query.Filter()).
				Str("method", string(step.Method)).
				Msg("directory search failed")
			lastErr = err
			continue
		}
		lastErr = nil

		if ok && entry.Meaningful() {
			return Found{Entry: entry, Via: step.Method}
		}
	}

	if lastErr != nil {
		return Errored{Err: lastErr}
	}
	return NotFound{Tried: len(steps)}
}

// Stats returns a copy of the outcome counts so far
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Stats{Total: r.stats.Total, ByMethod: make(map[Method]int, len(r.stats.ByMethod))}
	for k, v := range r.stats.ByMethod {
		out.ByMethod[k] = v
	}
	return out
}

// Cache returns the run cache
func (r *Resolver) Cache() *Cache {
	return r.cache
}

func planKey(steps []Step) string {
	keys := make([]string, 0, len(steps))
	for _, s := range steps {
		keys = append(keys, string(s.Method)+"="+s.Query.Key())
	}
	return strings.Join(keys, ";")
}
