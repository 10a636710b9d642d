package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/adapters/storage/keylock"
	"github.com/aescanero/dagplan/pkg/domain"
)

// ContractStore implements ports.ContractStore on the local filesystem.
//
// Layout, one record per (producer, consumer, direction) key:
//
//	<root>/<project>/contracts/<producer>__<consumer>.<direction>.json
//
// Put fully replaces the record via an atomic rename.
type ContractStore struct {
	root   string
	logger *zap.Logger
	locks  *keylock.Locker
}

// NewContractStore creates a filesystem contract store rooted at dir.
func NewContractStore(dir string, logger *zap.Logger) *ContractStore {
	return &ContractStore{
		root:   dir,
		logger: logger,
		locks:  keylock.New(),
	}
}

// Put replaces the contract record for its key.
func (s *ContractStore) Put(ctx context.Context, project string, contract domain.Contract) error {
	key := contractKey(contract.Producer, contract.Consumer, contract.Direction)
	release, err := s.locks.Acquire(ctx, project+"/"+key)
	if err != nil {
		return err
	}
	defer release()

	dir := filepath.Join(s.root, project, "contracts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create contracts dir: %w", err)
	}

	data, err := json.MarshalIndent(&contract, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contract: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, key), data); err != nil {
		return fmt.Errorf("failed to write contract: %w", err)
	}

	s.logger.Debug("contract written",
		zap.String("project", project),
		zap.String("producer", contract.Producer),
		zap.String("consumer", contract.Consumer),
		zap.String("direction", string(contract.Direction)))

	return nil
}

// Get returns the contract for a key, or domain.ErrNotFound. Corrupt records
// read as not found.
func (s *ContractStore) Get(ctx context.Context, project, producer, consumer string, direction domain.ContractDirection) (*domain.Contract, error) {
	path := filepath.Join(s.root, project, "contracts", contractKey(producer, consumer, direction))
	data, err := os.ReadFile(path)
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
// or consumer, sorted by filename for reproducible output.
func (s *ContractStore) ListForNode(ctx context.Context, project, node string) ([]domain.Contract, error) {
	dir := filepath.Join(s.root, project, "contracts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var contracts []domain.Contract
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
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

func contractKey(producer, consumer string, direction domain.ContractDirection) string {
	return fmt.Sprintf("%s__%s.%s.json", producer, consumer, direction)
}
