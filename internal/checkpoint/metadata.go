package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dray-io/vacuum/internal/metadata"
	"github.com/dray-io/vacuum/internal/metadata/keys"
)

// maxCASRetries bounds the compare-and-set loop of MetadataStore.Save.
const maxCASRetries = 5

// MetadataStore keeps checkpoints as JSON values under
// /vacuum/v1/checkpoints/<scopeID> in a metadata store.
type MetadataStore struct {
	meta metadata.MetadataStore
}

// NewMetadataStore returns a Store backed by meta.
func NewMetadataStore(meta metadata.MetadataStore) *MetadataStore {
	return &MetadataStore{meta: meta}
}

func (s *MetadataStore) Load(ctx context.Context, scopeID string) (Checkpoint, bool, error) {
	if scopeID == "" {
		return Checkpoint{}, false, ErrInvalidScope
	}
	cp, _, ok, err := s.get(ctx, scopeID)
	return cp, ok, err
}

func (s *MetadataStore) get(ctx context.Context, scopeID string) (Checkpoint, metadata.Version, bool, error) {
	res, err := s.meta.Get(ctx, keys.CheckpointKeyPath(scopeID))
	if err != nil {
		return Checkpoint{}, 0, false, fmt.Errorf("checkpoint: get %s: %w", scopeID, err)
	}
	if !res.Exists {
		return Checkpoint{}, 0, false, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(res.Value, &cp); err != nil {
		return Checkpoint{}, 0, false, fmt.Errorf("checkpoint: decode %s: %w", scopeID, err)
	}
	return cp, res.Version, true, nil
}

// Save writes cp with a compare-and-set on the key version. Version 0 is
// used to create the key.
func (s *MetadataStore) Save(ctx context.Context, cp Checkpoint) error {
	cp, err := stamp(cp)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	key := keys.CheckpointKeyPath(cp.ScopeID)
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		cur, version, ok, err := s.get(ctx, cp.ScopeID)
		if err != nil {
			return err
		}
		if ok && cur.LastCommitSeq > cp.LastCommitSeq {
			return nil
		}

		_, err = s.meta.Put(ctx, key, data, metadata.WithExpectedVersion(version))
		if err == nil {
			return nil
		}
		if !errors.Is(err, metadata.ErrVersionMismatch) {
			return fmt.Errorf("checkpoint: put %s: %w", cp.ScopeID, err)
		}
	}
	return fmt.Errorf("%w: scope %s", ErrConflict, cp.ScopeID)
}

func (s *MetadataStore) Delete(ctx context.Context, scopeID string) error {
	if scopeID == "" {
		return ErrInvalidScope
	}
	if err := s.meta.Delete(ctx, keys.CheckpointKeyPath(scopeID)); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", scopeID, err)
	}
	return nil
}

var _ Store = (*MetadataStore)(nil)
