package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dagplan/pkg/domain"
)

func TestValidateRequest(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.ValidateRequest(&domain.ExecutionRequest{
		Project: "proj",
		Request: "do something",
		Seeds:   []domain.Seed{{Node: "core"}},
	}))

	assert.Error(t, v.ValidateRequest(nil))
	assert.Error(t, v.ValidateRequest(&domain.ExecutionRequest{Request: "x"}))
	assert.Error(t, v.ValidateRequest(&domain.ExecutionRequest{Project: "p"}))
	assert.Error(t, v.ValidateRequest(&domain.ExecutionRequest{
		Project: "p",
		Request: "x",
		Seeds:   []domain.Seed{{Instruction: "no node"}},
	}))
}

func TestValidateSpecs(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.ValidateSpecs([]domain.NodeSpec{
		{Name: "core"},
		{Name: "api-v2.beta_1", Deps: []string{"core"}},
	}))

	assert.Error(t, v.ValidateSpecs(nil), "empty graph")
	assert.Error(t, v.ValidateSpecs([]domain.NodeSpec{{Name: ""}}))
	assert.Error(t, v.ValidateSpecs([]domain.NodeSpec{{Name: "has space"}}))
	assert.Error(t, v.ValidateSpecs([]domain.NodeSpec{{Name: "a"}, {Name: "a"}}))
	assert.Error(t, v.ValidateSpecs([]domain.NodeSpec{{Name: "a", Deps: []string{"a"}}}))
}
