// Package iconcache memoizes station icon symbols per level. Each level is fetched from
// the data source at most once; every caller for that level shares one Future.
package iconcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/metrics"
)

var ErrIconLoad = errors.New("icon load failed")

const symbolIDPrefix = "station-icon-ref-"

// SymbolID is the canvas id of the symbol for level.
func SymbolID(level int) string {
	return symbolIDPrefix + strconv.Itoa(level)
}

type IconSource interface {
	IconForLevel(ctx context.Context, level int) (string, error)
}

type SymbolDefiner interface {
	DefineSymbol(id, source string) (canvas.Symbol, error)
}

// Future is the shared, possibly still pending, result for one level.
type Future struct {
	level  int
	done   chan struct{}
	symbol canvas.Symbol
	err    error
}

func (f *Future) Level() int { return f.level }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the symbol is available or ctx is done. A ctx cancellation only
// abandons this wait; the shared fetch keeps running.
func (f *Future) Wait(ctx context.Context) (canvas.Symbol, error) {
	select {
	case <-f.done:
		return f.symbol, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Cache struct {
	log     zerolog.Logger
	source  IconSource
	defs    SymbolDefiner
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[int]*Future
}

type Options struct {
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

func New(source IconSource, defs SymbolDefiner, opts Options) *Cache {
	return &Cache{
		log:     opts.Log.With().Str("component", "iconcache").Logger(),
		source:  source,
		defs:    defs,
		metrics: opts.Metrics,
		entries: make(map[int]*Future),
	}
}

// SymbolForLevel returns the Future for level, starting the fetch on the first request.
// Failed fetches stay cached until Reset.
func (c *Cache) SymbolForLevel(ctx context.Context, level int) *Future {
	c.mu.Lock()
	if f, ok := c.entries[level]; ok {
		c.mu.Unlock()
		return f
	}
	f := &Future{level: level, done: make(chan struct{})}
	c.entries[level] = f
	c.mu.Unlock()

	go c.fetch(context.WithoutCancel(ctx), f)
	return f
}

func (c *Cache) fetch(ctx context.Context, f *Future) {
	defer close(f.done)

	src, err := c.source.IconForLevel(ctx, f.level)
	if err == nil {
		f.symbol, err = c.defs.DefineSymbol(SymbolID(f.level), src)
	}
	c.metrics.IncIconFetch(err)
	if err != nil {
		f.err = fmt.Errorf("%w: level %d: %w", ErrIconLoad, f.level, err)
		c.log.Warn().Err(err).Int("level", f.level).Msg("station icon fetch failed")
		return
	}
	c.log.Debug().Int("level", f.level).Str("symbol", f.symbol.ID()).Msg("station icon defined")
}

// Reset drops the entry for level so the next request fetches again. Waiters on the
// dropped Future still observe its result.
func (c *Cache) Reset(level int) {
	c.mu.Lock()
	delete(c.entries, level)
	c.mu.Unlock()
}

// Levels returns the requested levels in ascending order.
func (c *Cache) Levels() []int {
	c.mu.Lock()
	out := make([]int, 0, len(c.entries))
	for level := range c.entries {
		out = append(out, level)
	}
	c.mu.Unlock()
	sort.Ints(out)
	return out
}
