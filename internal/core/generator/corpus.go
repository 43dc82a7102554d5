package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TermSource supplies every search term ever attempted (job history).
type TermSource interface {
	AttemptedTerms(ctx context.Context) ([]string, error)
}

// Corpus is the set of attempted terms. It is appended to as terms are
// accepted and periodically merged with the persisted history.
type Corpus struct {
	source   TermSource
	interval time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	terms      map[string]struct{}
	lastReload time.Time
}

// NewCorpus returns an empty corpus. source may be nil for a purely in-memory corpus.
func NewCorpus(source TermSource, reloadInterval time.Duration, seed ...string) *Corpus {
	c := &Corpus{
		source:   source,
		interval: reloadInterval,
		now:      time.Now,
		terms:    make(map[string]struct{}, len(seed)),
	}
	for _, t := range seed {
		c.Add(t)
	}
	return c
}

// Normalize folds case and whitespace so "  smith " and "Smith" collide.
func Normalize(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

func (c *Corpus) Contains(term string) bool {
	key := Normalize(term)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.terms[key]
	return ok
}

// Add records term and reports whether it was new.
func (c *Corpus) Add(term string) bool {
	key := Normalize(term)
	if key == "" {
		return false
	}
	return c.tryAdd(key)
}

// Remove forgets term so it can be drawn again. It reports whether the term
// was present. Used when an accepted term never made it into the queue.
func (c *Corpus) Remove(term string) bool {
	key := Normalize(term)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.terms[key]; !ok {
		return false
	}
	delete(c.terms, key)
	return true
}

// tryAdd is Contains+Add on an already-normalized key.
func (c *Corpus) tryAdd(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.terms[key]; ok {
		return false
	}
	c.terms[key] = struct{}{}
	return true
}

func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.terms)
}

func (c *Corpus) LastReload() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastReload
}

// Reload merges the persisted history into the corpus. Local additions not yet
// persisted are kept.
func (c *Corpus) Reload(ctx context.Context) (int, error) {
	if c.source == nil {
		c.mu.Lock()
		c.lastReload = c.now()
		c.mu.Unlock()
		return 0, nil
	}
	terms, err := c.source.AttemptedTerms(ctx)
	if err != nil {
		return 0, fmt.Errorf("load attempted terms: %w", err)
	}
	added := 0
	c.mu.Lock()
	for _, t := range terms {
		key := Normalize(t)
		if key == "" {
			continue
		}
		if _, ok := c.terms[key]; !ok {
			c.terms[key] = struct{}{}
			added++
		}
	}
	c.lastReload = c.now()
	c.mu.Unlock()
	return added, nil
}

// ReloadIfStale reloads only when the reload interval has elapsed.
func (c *Corpus) ReloadIfStale(ctx context.Context) (bool, error) {
	c.mu.RLock()
	fresh := !c.lastReload.IsZero() && c.now().Sub(c.lastReload) < c.interval
	c.mu.RUnlock()
	if fresh {
		return false, nil
	}
	if _, err := c.Reload(ctx); err != nil {
		return false, err
	}
	return true, nil
}
