// Package mapper converts derived documents into persisted trials and
// resolves their reference entities.
package mapper

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/model"
)

// RefResolver resolves a natural key to a stored reference entity,
// creating it when absent.
type RefResolver interface {
	ResolveRef(ctx context.Context, key model.RefKey) (model.Ref, error)
}

// Store is the persistence the mapper needs.
type Store interface {
	RefResolver
	CreateTrial(ctx context.Context, t *model.Trial) error
}

// Mapper creates trials for documents not yet in the store.
type Mapper struct {
	store Store
}

// New returns a Mapper writing to st.
func New(st Store) *Mapper {
	return &Mapper{store: st}
}

// Map builds the trial for doc, resolves and attaches every agent,
// condition, country and sponsor, and persists it. The caller establishes
// that doc.NCTID is not stored yet; if it is, the returned error is a
// *model.DuplicateRecordError.
func (m *Mapper) Map(ctx context.Context, doc *model.Document) (*model.Trial, error) {
	t := Build(doc)

	refs, err := Resolve(ctx, m.store, RefKeys(doc))
	if err != nil {
		return nil, eris.Wrapf(err, "mapper: resolve refs for %s", doc.NCTID)
	}
	for _, r := range refs {
		t.AddRef(r)
	}

	if err := m.store.CreateTrial(ctx, t); err != nil {
		var dup *model.DuplicateRecordError
		if errors.As(err, &dup) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "mapper: create %s", doc.NCTID)
	}

	zap.L().Debug("trial created",
		zap.String("component", "mapper"),
		zap.String("nct_id", t.NCTID),
		zap.Int64("id", t.ID),
		zap.Int("agents", len(t.Agents)),
		zap.Int("sponsors", len(t.Sponsors)),
	)
	return t, nil
}

// Resolve resolves each key in order, stopping at the first failure.
func Resolve(ctx context.Context, r RefResolver, keys []model.RefKey) ([]model.Ref, error) {
	refs := make([]model.Ref, 0, len(keys))
	for _, key := range keys {
		ref, err := r.ResolveRef(ctx, key)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
