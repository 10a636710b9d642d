package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/adapters/storage/keylock"
	"github.com/aescanero/dagplan/pkg/domain"
)

// CheckpointStore implements ports.CheckpointStore on the local filesystem.
//
// Layout, one record per key tuple so state can be inspected and diffed
// externally:
//
//	<root>/<project>/checkpoints/<node>/v0001.json
//	<root>/<project>/checkpoints/<node>/head.json
//
// Every MarkInitialized appends the next version file and atomically
// replaces head.json to point at it. Fork repoints head.json to an existing
// version.
type CheckpointStore struct {
	root   string
	logger *zap.Logger
	locks  *keylock.Locker
}

type headRecord struct {
	Version int `json:"version"`
}

// NewCheckpointStore creates a filesystem checkpoint store rooted at dir.
func NewCheckpointStore(dir string, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{
		root:   dir,
		logger: logger,
		locks:  keylock.New(),
	}
}

// IsInitialized reports whether the node's head checkpoint is initialized.
// Missing or corrupt records read as not initialized.
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
	dir := s.nodeDir(project, node)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	version := s.maxVersion(project, node) + 1
	cp := domain.Checkpoint{
		Project:     project,
		Node:        node,
		Initialized: true,
		State:       json.RawMessage(state),
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
	}

	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := writeAtomic(s.versionPath(project, node, version), data); err != nil {
		return fmt.Errorf("failed to write checkpoint version: %w", err)
	}
	if err := s.writeHead(project, node, version); err != nil {
		return fmt.Errorf("failed to update checkpoint head: %w", err)
	}

	s.logger.Debug("checkpoint written",
		zap.String("project", project),
		zap.String("node", node),
		zap.Int("version", version))

	return nil
}

// Load returns the state blob at the head version.
func (s *CheckpointStore) Load(ctx context.Context, project, node string) ([]byte, error) {
	cp, err := s.loadHead(project, node)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return cp.State, nil
}

// Versions lists every stored checkpoint version for a node, oldest first.
func (s *CheckpointStore) Versions(ctx context.Context, project, node string) ([]domain.Checkpoint, error) {
	entries, err := os.ReadDir(s.nodeDir(project, node))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var versions []domain.Checkpoint
	for _, entry := range entries {
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "v%04d.json", &v); err != nil {
			continue
		}
		cp, err := s.readVersion(project, node, v)
		if err != nil {
			continue
		}
		versions = append(versions, *cp)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// Fork repoints the head to an existing version, creating a new branch tip.
// Anything durable outside the checkpoint blob is untouched.
func (s *CheckpointStore) Fork(ctx context.Context, project, node string, version int) error {
	release, err := s.Lock(ctx, project, node)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.readVersion(project, node, version); err != nil {
		return fmt.Errorf("checkpoint version %d for %s/%s: %w", version, project, node, domain.ErrNotFound)
	}
	if err := s.writeHead(project, node, version); err != nil {
		return fmt.Errorf("failed to fork checkpoint: %w", err)
	}

	s.logger.Info("checkpoint forked",
		zap.String("project", project),
		zap.String("node", node),
		zap.Int("version", version))

	return nil
}

// Clear removes the node's checkpoint record; with an empty node it removes
// every node of the project.
func (s *CheckpointStore) Clear(ctx context.Context, project, node string) error {
	if node == "" {
		if err := os.RemoveAll(filepath.Join(s.root, project, "checkpoints")); err != nil {
			return fmt.Errorf("failed to clear project checkpoints: %w", err)
		}
		return nil
	}

	release, err := s.Lock(ctx, project, node)
	if err != nil {
		return err
	}
	defer release()

	if err := os.RemoveAll(s.nodeDir(project, node)); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// List returns the initialization status of every node known to the project.
func (s *CheckpointStore) List(ctx context.Context, project string) ([]domain.CheckpointInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, project, "checkpoints"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	infos := make([]domain.CheckpointInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		node := entry.Name()
		info := domain.CheckpointInfo{Node: node}
		if cp, err := s.loadHead(project, node); err == nil {
			info.Initialized = cp.Initialized
			info.Version = cp.Version
			info.UpdatedAt = cp.UpdatedAt
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Node < infos[j].Node })
	return infos, nil
}

// Lock acquires the single-writer lease for a (project, node) key.
func (s *CheckpointStore) Lock(ctx context.Context, project, node string) (func(), error) {
	return s.locks.Acquire(ctx, project+"/"+node)
}

func (s *CheckpointStore) nodeDir(project, node string) string {
	return filepath.Join(s.root, project, "checkpoints", node)
}

func (s *CheckpointStore) versionPath(project, node string, version int) string {
	return filepath.Join(s.nodeDir(project, node), fmt.Sprintf("v%04d.json", version))
}

func (s *CheckpointStore) headPath(project, node string) string {
	return filepath.Join(s.nodeDir(project, node), "head.json")
}

// maxVersion returns the highest stored version number, not the head. After
// a fork the head sits below older versions, and the next write must still
// append past all of them.
func (s *CheckpointStore) maxVersion(project, node string) int {
	entries, err := os.ReadDir(s.nodeDir(project, node))
	if err != nil {
		return 0
	}
	max := 0
	for _, entry := range entries {
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "v%04d.json", &v); err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

func (s *CheckpointStore) headVersion(project, node string) int {
	data, err := os.ReadFile(s.headPath(project, node))
	if err != nil {
		return 0
	}
	var head headRecord
	if err := json.Unmarshal(data, &head); err != nil {
		return 0
	}
	return head.Version
}

func (s *CheckpointStore) writeHead(project, node string, version int) error {
	data, err := json.Marshal(headRecord{Version: version})
	if err != nil {
		return err
	}
	return writeAtomic(s.headPath(project, node), data)
}

func (s *CheckpointStore) readVersion(project, node string, version int) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.versionPath(project, node, version))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, domain.ErrNotFound
	}
	return &cp, nil
}

func (s *CheckpointStore) loadHead(project, node string) (*domain.Checkpoint, error) {
	version := s.headVersion(project, node)
	if version == 0 {
		return nil, domain.ErrNotFound
	}
	return s.readVersion(project, node, version)
}
