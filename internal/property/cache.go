// Package property implements the memoized, dependency-recording accessor
// over external player state. Reads are attributed to an explicit dependency
// key so that a change notification marks exactly the bindings that read the
// property during their last evaluation.
package property

import (
	"context"
	"strings"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
)

// DepKey identifies a dependent of a property (a binding's registration
// index). NoDep attributes a read to nobody.
type DepKey int

// NoDep marks reads performed outside any binding evaluation.
const NoDep DepKey = -1

// Source is the external state the cache memoizes. Implemented by the host
// client in production and by fakes in tests.
type Source interface {
	// Get reads the current value of a property. ok is false when the
	// property has no value.
	Get(name string) (value any, ok bool)
	// Observe subscribes to change notifications for a property.
	Observe(name string) error
	// KnownPrefix reports whether a top-level property namespace exists.
	KnownPrefix(prefix string) bool
}

type record struct {
	value any
	ok    bool
	deps  map[DepKey]struct{}
}

// Cache memoizes property values and records dependency edges. It is only
// ever touched from the engine goroutine, so it carries no lock.
type Cache struct {
	source  Source
	logger  logging.Logger
	records map[string]*record
}

// NewCache creates a property cache over a source.
func NewCache(source Source, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Cache{
		source:  source,
		logger:  logger.WithComponent("property"),
		records: make(map[string]*record),
	}
}

// BeginDeps clears every dependency edge previously recorded for dep.
// Called before a binding re-evaluates so edges are overwritten, not
// accumulated, and conditional reads don't leak stale dependencies.
func (c *Cache) BeginDeps(dep DepKey) {
	for _, rec := range c.records {
		delete(rec.deps, dep)
	}
}

// Get returns the cached value of a property, subscribing on first access.
// The read is attributed to dep unless dep is NoDep. When the property's
// top-level namespace is unknown the default is returned without caching a
// subscription.
func (c *Cache) Get(name string, def any, dep DepKey) any {
	rec, exists := c.records[name]
	if !exists {
		if !c.source.KnownPrefix(topLevel(name)) {
			err := errors.NewPropertyNotFound(name)
			c.logger.Warn(context.Background(), err, "property lookup failed", "name", name)
			return def
		}

		if err := c.source.Observe(name); err != nil {
			c.logger.Warn(context.Background(), err, "property observe failed", "name", name)
		}

		value, ok := c.source.Get(name)
		rec = &record{value: value, ok: ok, deps: make(map[DepKey]struct{})}
		c.records[name] = rec
	}

	if dep != NoDep {
		rec.deps[dep] = struct{}{}
	}

	if !rec.ok {
		return def
	}
	return rec.value
}

// Apply records an external change notification and returns the dependency
// keys that read the property during their last evaluation. A nil value
// marks the property absent.
func (c *Cache) Apply(name string, value any) []DepKey {
	rec, exists := c.records[name]
	if !exists {
		rec = &record{deps: make(map[DepKey]struct{})}
		c.records[name] = rec
	}

	rec.value = value
	rec.ok = value != nil

	deps := make([]DepKey, 0, len(rec.deps))
	for dep := range rec.deps {
		deps = append(deps, dep)
	}
	return deps
}

// Observed reports whether a property has a live cache record.
func (c *Cache) Observed(name string) bool {
	_, ok := c.records[name]
	return ok
}

// topLevel extracts the first path segment of a property name, e.g.
// "track-list/count" -> "track-list".
func topLevel(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}
