package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

type fakeLLM struct {
	response string
	err      error
	prompt   string
}

func (f *fakeLLM) GenerateCompletion(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	f.prompt = req.Messages[0].Content
	if f.err != nil {
		return nil, f.err
	}
	return &domain.LLMResponse{Content: f.response}, nil
}

func TestLLMRoute(t *testing.T) {
	client := &fakeLLM{response: `{"api": "expose the new field", "core": "add the field to the model"}`}
	router := NewLLMRouter(client, "test-model", zap.NewNop())

	seeds, err := router.Route(context.Background(), "add a created_at field", testGraph(t))
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	// Seeds follow graph declaration order, not JSON key order.
	assert.Equal(t, domain.Seed{Node: "core", Instruction: "add the field to the model"}, seeds[0])
	assert.Equal(t, domain.Seed{Node: "api", Instruction: "expose the new field"}, seeds[1])

	assert.Contains(t, client.prompt, "add a created_at field")
	assert.Contains(t, client.prompt, "- api: at services/api")
}

func TestLLMRouteStripsCodeFence(t *testing.T) {
	client := &fakeLLM{response: "Here is the routing:\n```json\n{\"web\": \"restyle the header\"}\n```"}
	router := NewLLMRouter(client, "test-model", zap.NewNop())

	seeds, err := router.Route(context.Background(), "restyle the header", testGraph(t))
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "web", seeds[0].Node)
}

func TestLLMRouteDropsUnknownNodes(t *testing.T) {
	client := &fakeLLM{response: `{"api": "do it", "nonexistent": "ignored"}`}
	router := NewLLMRouter(client, "test-model", zap.NewNop())

	seeds, err := router.Route(context.Background(), "request", testGraph(t))
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "api", seeds[0].Node)
}

func TestLLMRouteBadJSON(t *testing.T) {
	client := &fakeLLM{response: "sorry, I cannot help with that"}
	router := NewLLMRouter(client, "test-model", zap.NewNop())

	_, err := router.Route(context.Background(), "request", testGraph(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse routing response")
}

func TestLLMRouteCompletionError(t *testing.T) {
	client := &fakeLLM{err: errors.New("backend down")}
	router := NewLLMRouter(client, "test-model", zap.NewNop())

	_, err := router.Route(context.Background(), "request", testGraph(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestParseInstructionsPlainFence(t *testing.T) {
	instructions, err := parseInstructions("```\n{\"a\": \"b\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "b"}, instructions)
}
