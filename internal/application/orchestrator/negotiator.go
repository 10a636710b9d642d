package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/dagplan/pkg/domain"
)

// negotiate runs the two contract sub-phases over the relevant subgraph.
// Sub-phase 1 collects input contracts from every consumer concurrently.
// Sub-phase 2 walks producers in dependency-then-dependent topological
// waves, handing each its dependents' input contracts and persisting the
// output contracts it answers with. An executor failure marks only that
// node negotiation_failed; its prior contracts stay untouched.
func (r *runner) negotiate(ctx context.Context) {
	fresh := r.declareInputs(ctx)
	if ctx.Err() != nil {
		return
	}
	r.declareOutputs(ctx, fresh)
}

// declareInputs asks each consumer what it needs from its direct
// dependencies. Returns the freshly written contracts keyed
// producer -> consumer -> content.
func (r *runner) declareInputs(ctx context.Context) map[string]map[string]string {
	fresh := make(map[string]map[string]string)
	var freshMu sync.Mutex

	var g errgroup.Group
	for _, name := range r.relevant {
		deps := r.graph.Dependencies(name)
		if len(deps) == 0 {
			continue
		}
		if state := r.nodeState(name); state != nil && state.Status == domain.NodeStatusFailed {
			continue
		}

		name := name
		g.Go(func() error {
			var declared map[string]string
			err := r.execCall(ctx, "declare_input_contract", name, r.m.timeouts.Call, func(callCtx context.Context) error {
				var declErr error
				declared, declErr = r.executorFor(name).DeclareInputContracts(callCtx, deps)
				return declErr
			})
			if err != nil {
				r.logger.Warn("input contract declaration failed",
					zap.String("node", name),
					zap.Error(err))
				r.markNegotiationFailed(name, err.Error())
				return nil
			}

			for _, dep := range deps {
				content, ok := declared[dep]
				if !ok {
					continue
				}
				contract := domain.NewContract(dep, name, domain.DirectionInput, content)
				if err := r.putContract(ctx, contract); err != nil {
					r.logger.Warn("failed to persist input contract",
						zap.String("producer", dep),
						zap.String("consumer", name),
						zap.Error(err))
					r.markNegotiationFailed(name, err.Error())
					continue
				}

				freshMu.Lock()
				if fresh[dep] == nil {
					fresh[dep] = make(map[string]string)
				}
				fresh[dep][name] = content
				freshMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return fresh
}

// declareOutputs walks the producers leaves-first. A producer is only asked
// once all of its direct dependents have finished input declaration, which
// the sub-phase barrier already guarantees; the wave order additionally
// keeps dependency output generation ahead of its dependents'.
func (r *runner) declareOutputs(ctx context.Context, fresh map[string]map[string]string) {
	for _, wave := range r.graph.TopoWaves(r.relevant) {
		if ctx.Err() != nil {
			return
		}

		var g errgroup.Group
		for _, name := range wave {
			dependentInputs := fresh[name]
			if len(dependentInputs) == 0 {
				continue
			}
			if state := r.nodeState(name); state != nil && state.Status == domain.NodeStatusFailed {
				continue
			}

			name := name
			g.Go(func() error {
				var outputs map[string]string
				err := r.execCall(ctx, "declare_output_contract", name, r.m.timeouts.Call, func(callCtx context.Context) error {
					var declErr error
					outputs, declErr = r.executorFor(name).DeclareOutputContracts(callCtx, dependentInputs)
					return declErr
				})
				if err != nil {
					r.logger.Warn("output contract declaration failed",
						zap.String("node", name),
						zap.Error(err))
					r.markNegotiationFailed(name, err.Error())
					return nil
				}

				for dependent, content := range outputs {
					if _, asked := dependentInputs[dependent]; !asked {
						continue
					}
					contract := domain.NewContract(name, dependent, domain.DirectionOutput, content)
					if err := r.putContract(ctx, contract); err != nil {
						r.logger.Warn("failed to persist output contract",
							zap.String("producer", name),
							zap.String("consumer", dependent),
							zap.Error(err))
						r.markNegotiationFailed(name, err.Error())
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// putContract persists a contract with bounded write retries and announces
// it on the event stream.
func (r *runner) putContract(ctx context.Context, contract domain.Contract) error {
	if err := r.withStoreRetries(ctx, func() error {
		return r.m.contracts.Put(ctx, r.project, contract)
	}); err != nil {
		return err
	}

	r.m.metrics.RecordContractWritten(string(contract.Direction))
	r.publishEvent(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeContractWritten,
		RunID:     r.h.state.RunID,
		Node:      contract.Producer,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"producer":  contract.Producer,
			"consumer":  contract.Consumer,
			"direction": string(contract.Direction),
			"version":   contract.Version,
		},
	})
	return nil
}
