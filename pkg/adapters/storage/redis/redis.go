// Package redis provides Redis-backed checkpoint and contract stores.
// Single-writer leases are taken with SET NX and a TTL so that concurrent
// initializers across processes collapse to one writer.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

const (
	leaseTTL       = 30 * time.Second
	leaseRetryWait = 100 * time.Millisecond
)

// CheckpointStore implements ports.CheckpointStore on Redis.
type CheckpointStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCheckpointStore creates a Redis checkpoint store.
func NewCheckpointStore(client *redis.Client, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{client: client, logger: logger}
}

// IsInitialized reports whether the node's head checkpoint is initialized.
// Read failures and corrupt records read as not initialized.
func (s *CheckpointStore) IsInitialized(ctx context.Context, project, node string) (bool, error) {
	cp, err := s.loadHead(ctx, project, node)
	if err != nil {
		return false, nil
	}
	return cp.Initialized, nil
}

// MarkInitialized appends a new checkpoint version and repoints the head.
// Writers serialize through the Lock lease, which the caller holds.
func (s *CheckpointStore) MarkInitialized(ctx context.Context, project, node string, state []byte) error {
	version := s.maxVersion(ctx, project, node) + 1
	cp := domain.Checkpoint{
		Project:     project,
		Node:        node,
		Initialized: true,
		State:       json.RawMessage(state),
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := s.client.Set(ctx, versionKey(project, node, version), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint version: %w", err)
	}
	if err := s.client.Set(ctx, headKey(project, node), version, 0).Err(); err != nil {
		return fmt.Errorf("failed to update checkpoint head: %w", err)
	}
	if err := s.client.SAdd(ctx, nodesKey(project), node).Err(); err != nil {
		return fmt.Errorf("failed to index checkpoint node: %w", err)
	}

	s.logger.Debug("checkpoint written",
		zap.String("project", project),
		zap.String("node", node),
		zap.Int("version", version))

	return nil
}

// Load returns the state blob at the head version.
func (s *CheckpointStore) Load(ctx context.Context, project, node string) ([]byte, error) {
	cp, err := s.loadHead(ctx, project, node)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return cp.State, nil
}

// Versions lists every stored checkpoint version for a node, oldest first.
func (s *CheckpointStore) Versions(ctx context.Context, project, node string) ([]domain.Checkpoint, error) {
	var versions []domain.Checkpoint
	for v := 1; ; v++ {
		data, err := s.client.Get(ctx, versionKey(project, node, v)).Bytes()
		if err != nil {
			break
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		versions = append(versions, cp)
	}
	if len(versions) == 0 {
		return nil, domain.ErrNotFound
	}
	return versions, nil
}

// Fork repoints the head to an existing version.
func (s *CheckpointStore) Fork(ctx context.Context, project, node string, version int) error {
	release, err := s.Lock(ctx, project, node)
	if err != nil {
		return err
	}
	defer release()

	if err := s.client.Get(ctx, versionKey(project, node, version)).Err(); err != nil {
		return fmt.Errorf("checkpoint version %d for %s/%s: %w", version, project, node, domain.ErrNotFound)
	}
	if err := s.client.Set(ctx, headKey(project, node), version, 0).Err(); err != nil {
		return fmt.Errorf("failed to fork checkpoint: %w", err)
	}
	return nil
}

// Clear removes the node's record; with an empty node it removes all nodes
// of the project.
func (s *CheckpointStore) Clear(ctx context.Context, project, node string) error {
	if node == "" {
		nodes, err := s.client.SMembers(ctx, nodesKey(project)).Result()
		if err != nil {
			return fmt.Errorf("failed to list checkpoint nodes: %w", err)
		}
		for _, n := range nodes {
			if err := s.clearNode(ctx, project, n); err != nil {
				return err
			}
		}
		return s.client.Del(ctx, nodesKey(project)).Err()
	}

	if err := s.clearNode(ctx, project, node); err != nil {
		return err
	}
	return s.client.SRem(ctx, nodesKey(project), node).Err()
}

// List returns the initialization status of every node known to the project.
func (s *CheckpointStore) List(ctx context.Context, project string) ([]domain.CheckpointInfo, error) {
	nodes, err := s.client.SMembers(ctx, nodesKey(project)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint nodes: %w", err)
	}
	sort.Strings(nodes)

	infos := make([]domain.CheckpointInfo, 0, len(nodes))
	for _, node := range nodes {
		info := domain.CheckpointInfo{Node: node}
		if cp, err := s.loadHead(ctx, project, node); err == nil {
			info.Initialized = cp.Initialized
			info.Version = cp.Version
			info.UpdatedAt = cp.UpdatedAt
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Lock acquires the per-key lease, waiting until it is free or ctx is done.
func (s *CheckpointStore) Lock(ctx context.Context, project, node string) (func(), error) {
	key := leaseKey(project, node)
	token := uuid.New().String()

	for {
		ok, err := s.client.SetNX(ctx, key, token, leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leaseRetryWait):
		}
	}

	release := func() {
		// Release only our own lease; an expired lease may have been retaken.
		current, err := s.client.Get(context.Background(), key).Result()
		if err == nil && current == token {
			s.client.Del(context.Background(), key)
		}
	}
	return release, nil
}

func (s *CheckpointStore) clearNode(ctx context.Context, project, node string) error {
	keys := []string{headKey(project, node)}
	for v := s.maxVersion(ctx, project, node); v >= 1; v-- {
		keys = append(keys, versionKey(project, node, v))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// maxVersion returns the highest stored version number, not the head.
// Versions are contiguous from 1, so the scan stops at the first gap. After
// a fork the head sits below older versions, and the next write must still
// append past all of them.
func (s *CheckpointStore) maxVersion(ctx context.Context, project, node string) int {
	v := 0
	for {
		if err := s.client.Get(ctx, versionKey(project, node, v+1)).Err(); err != nil {
			return v
		}
		v++
	}
}

func (s *CheckpointStore) headVersion(ctx context.Context, project, node string) int {
	v, err := s.client.Get(ctx, headKey(project, node)).Int()
	if err != nil {
		return 0
	}
	return v
}

func (s *CheckpointStore) loadHead(ctx context.Context, project, node string) (*domain.Checkpoint, error) {
	version := s.headVersion(ctx, project, node)
	if version == 0 {
		return nil, domain.ErrNotFound
	}
	data, err := s.client.Get(ctx, versionKey(project, node, version)).Bytes()
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, domain.ErrNotFound
	}
	return &cp, nil
}

func headKey(project, node string) string {
	return fmt.Sprintf("dagplan:checkpoint:%s:%s:head", project, node)
}

func versionKey(project, node string, version int) string {
	return fmt.Sprintf("dagplan:checkpoint:%s:%s:v%d", project, node, version)
}

func nodesKey(project string) string {
	return fmt.Sprintf("dagplan:checkpoints:%s", project)
}

func leaseKey(project, node string) string {
	return fmt.Sprintf("dagplan:lease:%s:%s", project, node)
}
