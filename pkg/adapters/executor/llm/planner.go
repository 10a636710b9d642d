// Package llm implements a task executor that plans with an LLM backend.
//
// Each node gets a planner bound to its graph position. The planner asks the
// model to explore the node, declare contracts toward its neighbors, and
// produce a development plan. Plans may carry DELEGATE directives that
// trigger execution of direct dependencies through the delegate callback.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

const dependencyMarker = "# Dependency: "

// Options configures planner model parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Factory builds a Planner per node.
type Factory struct {
	client ports.LLMClient
	opts   Options
	logger *zap.Logger
}

// NewFactory creates a planner factory on an LLM client.
func NewFactory(client ports.LLMClient, opts Options, logger *zap.Logger) *Factory {
	return &Factory{client: client, opts: opts, logger: logger}
}

// ExecutorFor binds a planner to a node.
func (f *Factory) ExecutorFor(project string, node *domain.Node) ports.TaskExecutor {
	return &Planner{
		project: project,
		node:    node,
		client:  f.client,
		opts:    f.opts,
		logger:  f.logger.With(zap.String("project", project), zap.String("node", node.Name)),
	}
}

// Planner implements ports.TaskExecutor for one node.
type Planner struct {
	project string
	node    *domain.Node
	client  ports.LLMClient
	opts    Options
	logger  *zap.Logger

	summary string
}

type explorationState struct {
	Summary    string    `json:"summary"`
	ExploredAt time.Time `json:"explored_at"`
}

// Explore asks the model to summarize the node's role and returns the
// summary as the checkpoint state blob.
func (p *Planner) Explore(ctx context.Context) ([]byte, error) {
	var depContext string
	if len(p.node.Deps) > 0 {
		depContext = fmt.Sprintf("\nThis component depends on: %s.", strings.Join(p.node.Deps, ", "))
	}

	prompt := fmt.Sprintf(`You are exploring the %s component at path %s to understand its role.%s

Summarize in 2-3 sentences what this component does, how it is organized, and how to test it.`,
		p.node.Name, p.node.Path, depContext)

	resp, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("explore %s: %w", p.node.Name, err)
	}

	p.summary = strings.TrimSpace(resp)
	p.logger.Debug("exploration complete", zap.Int("summary_len", len(p.summary)))

	state, err := json.Marshal(explorationState{
		Summary:    p.summary,
		ExploredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal exploration state: %w", err)
	}
	return state, nil
}

// DeclareInputContracts asks the model for one section per dependency
// describing what this node needs from it.
func (p *Planner) DeclareInputContracts(ctx context.Context, dependencies []string) (map[string]string, error) {
	if len(dependencies) == 0 {
		return map[string]string{}, nil
	}

	var sections strings.Builder
	for _, dep := range dependencies {
		fmt.Fprintf(&sections, `
%s%s
## How we use it
[Description with code snippets showing usage]

## What we need from them
[Specific requirements and expectations]
`, dependencyMarker, dep)
	}

	prompt := fmt.Sprintf(`You are analyzing how the %s component uses its dependencies: %s.

For EACH dependency, describe how it is referenced and what requirements this component has of it.

Output format:
%s
Keep it concise and actionable.`,
		p.node.Name, strings.Join(dependencies, ", "), sections.String())

	resp, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("declare input contracts for %s: %w", p.node.Name, err)
	}

	contracts := splitDependencySections(resp, dependencies)
	if len(contracts) == 0 {
		return nil, fmt.Errorf("declare input contracts for %s: no dependency sections in response", p.node.Name)
	}
	return contracts, nil
}

// DeclareOutputContracts produces one provider contract per dependent,
// responding to what that dependent declared it needs.
func (p *Planner) DeclareOutputContracts(ctx context.Context, dependentInputs map[string]string) (map[string]string, error) {
	dependents := make([]string, 0, len(dependentInputs))
	for name := range dependentInputs {
		dependents = append(dependents, name)
	}
	sort.Strings(dependents)

	outputs := make(map[string]string, len(dependents))
	for _, dependent := range dependents {
		prompt := fmt.Sprintf(`You are the maintainer of the %s component.

A downstream consumer (%s) has documented what they need from your component:

%s

Analyze how you meet these requirements and create a provider contract.

Output format:

# Provider Contract: What %s provides to %s

## Current Implementation
[How your code currently satisfies their requirements, with file references]

## API Stability
[What parts of the API are stable vs subject to change]

## Testing
[What tests ensure this contract is maintained]

Keep it concise and actionable.`,
			p.node.Name, dependent, dependentInputs[dependent], p.node.Name, dependent)

		resp, err := p.complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("declare output contract %s -> %s: %w", p.node.Name, dependent, err)
		}
		outputs[dependent] = strings.TrimSpace(resp)
	}
	return outputs, nil
}

// RunTask produces the node's development plan. Lines of the form
// "DELEGATE <dependency>: <task>" in the plan trigger execution of that
// dependency; its plan is appended to this node's plan.
func (p *Planner) RunTask(ctx context.Context, task string, dependencyOutputs map[string]string, delegate ports.DelegateFunc) (string, error) {
	var upstream strings.Builder
	if len(dependencyOutputs) > 0 {
		deps := make([]string, 0, len(dependencyOutputs))
		for name := range dependencyOutputs {
			deps = append(deps, name)
		}
		sort.Strings(deps)

		upstream.WriteString("\n\nYour upstream dependencies and their provider contracts:\n")
		for _, dep := range deps {
			fmt.Fprintf(&upstream, "  - %s:\n%s\n", dep, indent(dependencyOutputs[dep], "    "))
		}
	}

	prompt := fmt.Sprintf(`You are a product owner and test consultant for the %s component at path %s.

Your job is to analyze requirements and produce a development plan, NOT implement it.%s

Context:
- There is one developer who is skilled but has poor memory
- Your plan should specify tests that will pass when the task is complete
- Test failure messages should remind the developer what requirement they ensure

Produce a plan that includes:
- Which files need changes and why
- What tests should pass, with exact test commands
- Guidance on running tests before and after implementation

If part of the task belongs to one of your direct dependencies, emit a line of
the exact form "DELEGATE <dependency>: <task for that dependency>" and leave
that part out of your own plan.

Important:
- DO NOT implement changes yourself
- DO NOT propose entire implementations
- DO provide hints, relevant files, and test strategies

Task: %s`, p.node.Name, p.node.Path, upstream.String(), task)

	resp, err := p.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("run task for %s: %w", p.node.Name, err)
	}

	plan, delegations := extractDelegations(resp)
	for _, d := range delegations {
		p.logger.Info("delegating to dependency",
			zap.String("dependency", d.dependency))

		depPlan, err := delegate(ctx, d.dependency, d.task)
		if err != nil {
			return "", fmt.Errorf("delegate %s -> %s: %w", p.node.Name, d.dependency, err)
		}
		plan += fmt.Sprintf("\n\n## Delegated to %s\n\n%s", d.dependency, depPlan)
	}

	return plan, nil
}

func (p *Planner) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.GenerateCompletion(ctx, &domain.LLMRequest{
		Model:       p.opts.Model,
		Messages:    []domain.LLMMessage{{Role: "user", Content: prompt}},
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type delegation struct {
	dependency string
	task       string
}

// extractDelegations strips DELEGATE directive lines out of a plan and
// returns them in order of appearance.
func extractDelegations(plan string) (string, []delegation) {
	var kept []string
	var delegations []delegation

	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, "DELEGATE ")
		if !ok {
			kept = append(kept, line)
			continue
		}
		dep, task, ok := strings.Cut(rest, ":")
		if !ok {
			kept = append(kept, line)
			continue
		}
		delegations = append(delegations, delegation{
			dependency: strings.TrimSpace(dep),
			task:       strings.TrimSpace(task),
		})
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), delegations
}

// splitDependencySections slices a response into per-dependency sections
// keyed by the "# Dependency: <name>" headings.
func splitDependencySections(output string, dependencies []string) map[string]string {
	sections := make(map[string]string)
	for _, dep := range dependencies {
		marker := dependencyMarker + dep
		start := strings.Index(output, marker)
		if start < 0 {
			continue
		}

		end := len(output)
		for _, other := range dependencies {
			if other == dep {
				continue
			}
			idx := strings.Index(output[start+len(marker):], dependencyMarker+other)
			if idx >= 0 && start+len(marker)+idx < end {
				end = start + len(marker) + idx
			}
		}
		sections[dep] = strings.TrimSpace(output[start:end])
	}
	return sections
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
