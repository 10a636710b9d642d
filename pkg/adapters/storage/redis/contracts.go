package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

// ContractStore implements ports.ContractStore on Redis.
type ContractStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewContractStore creates a Redis contract store.
func NewContractStore(client *redis.Client, logger *zap.Logger) *ContractStore {
	return &ContractStore{client: client, logger: logger}
}

// Put replaces the contract record for its key.
func (s *ContractStore) Put(ctx context.Context, project string, contract domain.Contract) error {
	data, err := json.Marshal(&contract)
	if err != nil {
		return fmt.Errorf("failed to marshal contract: %w", err)
	}

	key := contractRecordKey(project, contract.Producer, contract.Consumer, contract.Direction)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write contract: %w", err)
	}
	if err := s.client.SAdd(ctx, contractIndexKey(project), key).Err(); err != nil {
		return fmt.Errorf("failed to index contract: %w", err)
	}

	s.logger.Debug("contract written",
		zap.String("project", project),
		zap.String("producer", contract.Producer),
		zap.String("consumer", contract.Consumer),
		zap.String("direction", string(contract.Direction)))

	return nil
}

// Get returns the contract for a key, or domain.ErrNotFound.
func (s *ContractStore) Get(ctx context.Context, project, producer, consumer string, direction domain.ContractDirection) (*domain.Contract, error) {
	data, err := s.client.Get(ctx, contractRecordKey(project, producer, consumer, direction)).Bytes()
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var contract domain.Contract
	if err := json.Unmarshal(data, &contract); err != nil {
		return nil, domain.ErrNotFound
	}
	return &contract, nil
}

// ListForNode returns every contract in which the node appears as producer
// or consumer.
func (s *ContractStore) ListForNode(ctx context.Context, project, node string) ([]domain.Contract, error) {
	keys, err := s.client.SMembers(ctx, contractIndexKey(project)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	sort.Strings(keys)

	var contracts []domain.Contract
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var contract domain.Contract
		if err := json.Unmarshal(data, &contract); err != nil {
			continue
		}
		if node == "" || contract.Producer == node || contract.Consumer == node {
			contracts = append(contracts, contract)
		}
	}
	return contracts, nil
}

func contractRecordKey(project, producer, consumer string, direction domain.ContractDirection) string {
	return fmt.Sprintf("dagplan:contract:%s:%s:%s:%s", project, producer, consumer, direction)
}

func contractIndexKey(project string) string {
	return fmt.Sprintf("dagplan:contracts:%s", project)
}
