// Package routing provides pluggable seed-selection strategies. A router
// maps a free-form request onto the graph nodes a run should start from,
// with a per-node instruction for each seed.
package routing

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

// KeywordRouter selects seeds by matching request tokens against node
// names, tags and path segments. Matching is deterministic: candidates are
// ranked by hit count, ties broken by declaration order.
type KeywordRouter struct {
	logger *zap.Logger

	// FallbackAll seeds every node with the raw request when nothing
	// matches, instead of returning an empty seed list.
	FallbackAll bool
}

// NewKeywordRouter creates a keyword-matching router.
func NewKeywordRouter(logger *zap.Logger, fallbackAll bool) *KeywordRouter {
	return &KeywordRouter{logger: logger, FallbackAll: fallbackAll}
}

// Route returns the matched seeds carrying the raw request as instruction.
func (r *KeywordRouter) Route(ctx context.Context, request string, graph *domain.Graph) ([]domain.Seed, error) {
	tokens := tokenize(request)

	type scored struct {
		name string
		hits int
		pos  int
	}
	var candidates []scored
	for pos, node := range graph.Nodes() {
		hits := r.score(node, tokens)
		if hits > 0 {
			candidates = append(candidates, scored{name: node.Name, hits: hits, pos: pos})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hits != candidates[j].hits {
			return candidates[i].hits > candidates[j].hits
		}
		return candidates[i].pos < candidates[j].pos
	})

	if len(candidates) == 0 {
		if !r.FallbackAll {
			r.logger.Warn("no node matched the request")
			return nil, nil
		}
		r.logger.Warn("no node matched the request, seeding all nodes")
		seeds := make([]domain.Seed, 0, graph.Len())
		for _, node := range graph.Nodes() {
			seeds = append(seeds, domain.Seed{Node: node.Name, Instruction: request})
		}
		return seeds, nil
	}

	seeds := make([]domain.Seed, 0, len(candidates))
	for _, c := range candidates {
		seeds = append(seeds, domain.Seed{Node: c.name, Instruction: request})
	}

	r.logger.Debug("keyword routing complete",
		zap.Int("seeds", len(seeds)),
		zap.String("root", seeds[0].Node))
	return seeds, nil
}

func (r *KeywordRouter) score(node *domain.Node, tokens []string) int {
	terms := make(map[string]bool)
	for _, t := range tokenize(node.Name) {
		terms[t] = true
	}
	for _, tag := range node.Tags {
		for _, t := range tokenize(tag) {
			terms[t] = true
		}
	}
	for _, t := range tokenize(node.Path) {
		terms[t] = true
	}

	hits := 0
	for _, token := range tokens {
		if terms[token] {
			hits++
		}
	}
	return hits
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
