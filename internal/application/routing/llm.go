package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// LLMRouter asks an LLM to map the request to per-node instructions. The
// model returns a JSON object keyed by node name; keys naming unknown nodes
// are dropped. Nodes are emitted in declaration order so routing stays
// deterministic for a fixed model response.
type LLMRouter struct {
	client ports.LLMClient
	model  string
	logger *zap.Logger
}

// NewLLMRouter creates an LLM-backed router.
func NewLLMRouter(client ports.LLMClient, model string, logger *zap.Logger) *LLMRouter {
	return &LLMRouter{client: client, model: model, logger: logger}
}

// Route returns one seed per node the model selected.
func (r *LLMRouter) Route(ctx context.Context, request string, graph *domain.Graph) ([]domain.Seed, error) {
	var nodesInfo strings.Builder
	for _, node := range graph.Nodes() {
		fmt.Fprintf(&nodesInfo, "- %s: at %s", node.Name, node.Path)
		if len(node.Tags) > 0 {
			fmt.Fprintf(&nodesInfo, " (tags: %s)", strings.Join(node.Tags, ", "))
		}
		if len(node.Deps) > 0 {
			fmt.Fprintf(&nodesInfo, " (depends on: %s)", strings.Join(node.Deps, ", "))
		}
		nodesInfo.WriteString("\n")
	}

	prompt := fmt.Sprintf(`You are the root coordinator for a multi-component project.

Available components:
%s
User request: %s

Your task:
1. Analyze which components are directly responsible for this request
2. For EACH relevant component, create specific instructions tailored to its role

Only route to multiple components if the request genuinely affects multiple
independent components.

Return ONLY a JSON object mapping component names to their specific
instructions. Respond with just the JSON object, nothing else.`,
		nodesInfo.String(), request)

	resp, err := r.client.GenerateCompletion(ctx, &domain.LLMRequest{
		Model:    r.model,
		Messages: []domain.LLMMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("routing completion: %w", err)
	}

	instructions, err := parseInstructions(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse routing response: %w", err)
	}

	var unknown []string
	seeds := make([]domain.Seed, 0, len(instructions))
	for _, node := range graph.Nodes() {
		if instruction, ok := instructions[node.Name]; ok {
			seeds = append(seeds, domain.Seed{Node: node.Name, Instruction: instruction})
			delete(instructions, node.Name)
		}
	}
	for name := range instructions {
		unknown = append(unknown, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		r.logger.Warn("router named unknown nodes", zap.Strings("nodes", unknown))
	}

	r.logger.Debug("llm routing complete", zap.Int("seeds", len(seeds)))
	return seeds, nil
}

// parseInstructions decodes the model's JSON object, stripping a markdown
// code fence when present.
func parseInstructions(content string) (map[string]string, error) {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}

	var instructions map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &instructions); err != nil {
		return nil, err
	}
	return instructions, nil
}
