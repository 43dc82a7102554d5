// Package generator produces search terms for harvesting. Terms are drawn from
// a fixed set of strategies weighted by their observed yield and filtered
// against the corpus of terms already attempted.
package generator

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindSurname      Kind = "surname"
	KindStreetName   Kind = "street_name"
	KindNeighborhood Kind = "neighborhood"
	KindBusiness     Kind = "business"
	KindPropertyType Kind = "property_type"
)

var allKinds = []Kind{KindSurname, KindStreetName, KindNeighborhood, KindBusiness, KindPropertyType}

func (k Kind) valid() bool {
	for _, x := range allKinds {
		if x == k {
			return true
		}
	}
	return false
}

// Strategy is one weighted way of producing a term.
type Strategy struct {
	Kind   Kind    `json:"kind"`
	Weight float64 `json:"weight"`
}

// maxDrawFactor bounds NextBatch to n*maxDrawFactor draws.
const maxDrawFactor = 10

// Batch is the result of one NextBatch call.
type Batch struct {
	Terms           []string     `json:"terms"`
	Draws           int          `json:"draws"`
	ExactDuplicates int          `json:"exactDuplicates"`
	NearDuplicates  int          `json:"nearDuplicates"`
	ByStrategy      map[Kind]int `json:"byStrategy"`
}

type Generator struct {
	vocab      Vocabulary
	strategies []Strategy
	total      float64
	suffixes   map[string]struct{}
	corpus     *Corpus

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand injects the random source, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

// New builds a generator over vocab that filters against corpus.
func New(vocab Vocabulary, corpus *Corpus, opts ...Option) (*Generator, error) {
	if corpus == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	g := &Generator{
		vocab:    vocab,
		corpus:   corpus,
		suffixes: make(map[string]struct{}, len(vocab.BusinessSuffixes)),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, s := range vocab.BusinessSuffixes {
		g.suffixes[strings.ToLower(s)] = struct{}{}
	}
	for _, k := range allKinds {
		w := vocab.Yields[k]
		if w <= 0 || !g.hasMaterial(k) {
			continue
		}
		g.strategies = append(g.strategies, Strategy{Kind: k, Weight: w})
		g.total += w
	}
	if len(g.strategies) == 0 {
		return nil, fmt.Errorf("no usable strategies: every strategy has zero yield or an empty vocabulary")
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Strategies returns the active strategies, heaviest first.
func (g *Generator) Strategies() []Strategy {
	out := append([]Strategy(nil), g.strategies...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

func (g *Generator) Corpus() *Corpus { return g.corpus }

func (g *Generator) hasMaterial(k Kind) bool {
	switch k {
	case KindSurname:
		return len(g.vocab.Surnames) > 0
	case KindStreetName:
		return len(g.vocab.Streets) > 0
	case KindNeighborhood:
		return len(g.vocab.Neighborhoods) > 0
	case KindBusiness:
		return len(g.vocab.Surnames) > 0 && len(g.vocab.BusinessSuffixes) > 0
	case KindPropertyType:
		return len(g.vocab.PropertyTypes) > 0
	}
	return false
}

// pick selects a strategy proportionally to its weight. Caller holds g.mu.
func (g *Generator) pick() Strategy {
	x := g.rng.Float64() * g.total
	for _, s := range g.strategies {
		if x < s.Weight {
			return s
		}
		x -= s.Weight
	}
	return g.strategies[len(g.strategies)-1]
}

// generate produces one candidate for s. Caller holds g.mu.
func (g *Generator) generate(s Strategy) string {
	switch s.Kind {
	case KindSurname:
		return g.choose(g.vocab.Surnames)
	case KindStreetName:
		return g.choose(g.vocab.Streets)
	case KindNeighborhood:
		return g.choose(g.vocab.Neighborhoods)
	case KindBusiness:
		return g.choose(g.vocab.Surnames) + " " + g.choose(g.vocab.BusinessSuffixes)
	case KindPropertyType:
		return g.choose(g.vocab.PropertyTypes)
	}
	return ""
}

func (g *Generator) choose(list []string) string {
	return list[g.rng.Intn(len(list))]
}

// isNearDuplicate rejects exactly-two-token "name suffix" candidates whose bare
// name was already attempted. Wider containment checks are not applied: once
// the corpus is large they reject almost every candidate.
func (g *Generator) isNearDuplicate(candidate string) bool {
	parts := strings.Fields(candidate)
	if len(parts) != 2 {
		return false
	}
	if _, ok := g.suffixes[strings.ToLower(parts[1])]; !ok {
		return false
	}
	return g.corpus.Contains(parts[0])
}

// NextBatch draws up to n unique terms not yet in the corpus, making at most
// n*10 draws. Accepted terms are added to the corpus immediately.
func (g *Generator) NextBatch(n int) Batch {
	b := Batch{ByStrategy: make(map[Kind]int)}
	if n <= 0 {
		return b
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	maxDraws := n * maxDrawFactor
	for b.Draws < maxDraws && len(b.Terms) < n {
		b.Draws++
		s := g.pick()
		candidate := g.generate(s)
		key := Normalize(candidate)
		if key == "" {
			continue
		}
		if g.corpus.Contains(key) {
			b.ExactDuplicates++
			continue
		}
		if g.isNearDuplicate(candidate) {
			b.NearDuplicates++
			continue
		}
		if !g.corpus.tryAdd(key) {
			b.ExactDuplicates++
			continue
		}
		b.Terms = append(b.Terms, candidate)
		b.ByStrategy[s.Kind]++
	}
	return b
}
