// Package memory provides in-memory checkpoint and contract stores.
// This is for testing purposes only.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dagplan/pkg/adapters/storage/keylock"
	"github.com/aescanero/dagplan/pkg/domain"
)

// CheckpointStore implements ports.CheckpointStore with maps.
type CheckpointStore struct {
	mu       sync.RWMutex
	versions map[string][]domain.Checkpoint // key: project/node, oldest first
	heads    map[string]int
	locks    *keylock.Locker
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		versions: make(map[string][]domain.Checkpoint),
		heads:    make(map[string]int),
		locks:    keylock.New(),
	}
}

func ckey(project, node string) string { return project + "/" + node }

// IsInitialized reports whether the node's head checkpoint is initialized.
func (s *CheckpointStore) IsInitialized(ctx context.Context, project, node string) (bool, error) {
	cp, err := s.loadHead(project, node)
	if err != nil {
		return false, nil
	}
	return cp.Initialized, nil
}

// MarkInitialized appends a new checkpoint version and repoints the head.
// Writers serialize through the Lock lease, which the caller holds.
func (s *CheckpointStore) MarkInitialized(ctx context.Context, project, node string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ckey(project, node)
	version := len(s.versions[key]) + 1
	s.versions[key] = append(s.versions[key], domain.Checkpoint{
		Project:     project,
		Node:        node,
		Initialized: true,
		State:       json.RawMessage(append([]byte(nil), state...)),
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
	})
	s.heads[key] = version
	return nil
}

// Load returns the state blob at the head version.
func (s *CheckpointStore) Load(ctx context.Context, project, node string) ([]byte, error) {
	cp, err := s.loadHead(project, node)
	if err != nil {
		return nil, err
	}
	return cp.State, nil
}

// Versions lists every stored checkpoint version, oldest first.
func (s *CheckpointStore) Versions(ctx context.Context, project, node string) ([]domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.versions[ckey(project, node)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.Checkpoint(nil), versions...), nil
}

// Fork repoints the head to an existing version.
func (s *CheckpointStore) Fork(ctx context.Context, project, node string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ckey(project, node)
	if version < 1 || version > len(s.versions[key]) {
		return fmt.Errorf("checkpoint version %d for %s: %w", version, key, domain.ErrNotFound)
	}
	s.heads[key] = version
	return nil
}

// Clear removes the node's record; with an empty node it clears the project.
func (s *CheckpointStore) Clear(ctx context.Context, project, node string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node == "" {
		prefix := project + "/"
		for key := range s.versions {
			if strings.HasPrefix(key, prefix) {
				delete(s.versions, key)
				delete(s.heads, key)
			}
		}
		return nil
	}

	key := ckey(project, node)
	delete(s.versions, key)
	delete(s.heads, key)
	return nil
}

// List returns the initialization status of every node of a project.
func (s *CheckpointStore) List(ctx context.Context, project string) ([]domain.CheckpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := project + "/"
	var infos []domain.CheckpointInfo
	for key, versions := range s.versions {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		head := s.heads[key]
		cp := versions[head-1]
		infos = append(infos, domain.CheckpointInfo{
			Node:        strings.TrimPrefix(key, prefix),
			Initialized: cp.Initialized,
			Version:     cp.Version,
			UpdatedAt:   cp.UpdatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Node < infos[j].Node })
	return infos, nil
}

// Lock acquires the single-writer lease for a (project, node) key.
func (s *CheckpointStore) Lock(ctx context.Context, project, node string) (func(), error) {
	return s.locks.Acquire(ctx, ckey(project, node))
}

func (s *CheckpointStore) loadHead(project, node string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := ckey(project, node)
	head, ok := s.heads[key]
	if !ok || head == 0 {
		return nil, domain.ErrNotFound
	}
	cp := s.versions[key][head-1]
	return &cp, nil
}

// ContractStore implements ports.ContractStore with maps.
type ContractStore struct {
	mu        sync.RWMutex
	contracts map[string]domain.Contract // key: project/producer/consumer/direction
}

// NewContractStore creates an empty in-memory contract store.
func NewContractStore() *ContractStore {
	return &ContractStore{contracts: make(map[string]domain.Contract)}
}

func contractKey(project, producer, consumer string, direction domain.ContractDirection) string {
	return fmt.Sprintf("%s/%s/%s/%s", project, producer, consumer, direction)
}

// Put replaces the contract record for its key.
func (s *ContractStore) Put(ctx context.Context, project string, contract domain.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contracts[contractKey(project, contract.Producer, contract.Consumer, contract.Direction)] = contract
	return nil
}

// Get returns the contract for a key, or domain.ErrNotFound.
func (s *ContractStore) Get(ctx context.Context, project, producer, consumer string, direction domain.ContractDirection) (*domain.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[contractKey(project, producer, consumer, direction)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &contract, nil
}

// ListForNode returns every contract in which the node appears as producer
// or consumer.
func (s *ContractStore) ListForNode(ctx context.Context, project, node string) ([]domain.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.contracts))
	for key := range s.contracts {
		if strings.HasPrefix(key, project+"/") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var contracts []domain.Contract
	for _, key := range keys {
		contract := s.contracts[key]
		if node == "" || contract.Producer == node || contract.Consumer == node {
			contracts = append(contracts, contract)
		}
	}
	return contracts, nil
}
