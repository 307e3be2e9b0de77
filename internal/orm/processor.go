package orm

import (
	"context"
	"net/http"
	"sort"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// PersistProcessor saves records
type PersistProcessor struct {
	manager *Manager
}

// NewPersistProcessor creates a persist processor
func NewPersistProcessor(manager *Manager) *PersistProcessor {
	return &PersistProcessor{manager: manager}
}

// Process implements state.Processor. Loaded belongs-to relations are saved
// first and associated. A standard PUT keeps the primary key and immutable
// fields of the previous record and updates it in place.
func (p *PersistProcessor) Process(ctx context.Context, data any, op *metadata.Operation, _ *identifier.Values, sc *state.Context) (any, error) {
	rec, ok := data.(*model.Record)
	if !ok || rec == nil {
		return data, nil
	}
	res, err := p.manager.Resource(rec.ResourceClass())
	if err != nil {
		return nil, err
	}

	if err := p.associate(ctx, res, rec); err != nil {
		return nil, err
	}

	if op.Method() == http.MethodPut && op.StandardPut() && sc != nil {
		if previous, ok := sc.PreviousData.(*model.Record); ok && previous != nil && previous.Exists() {
			for _, id := range res.Identifiers {
				rec.Set(id, previous.Get(id))
			}
			for _, name := range res.ImmutableFields() {
				rec.Set(name, previous.Get(name))
			}
			rec.SetExists(true)
		}
	}

	if err := p.manager.Persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PersistProcessor) associate(ctx context.Context, res *metadata.Resource, rec *model.Record) error {
	names := make([]string, 0, len(res.Relations))
	for name, rel := range res.Relations {
		if rel.IsOwningSide() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := rec.Relation(name)
		if !ok {
			continue
		}
		related, _ := v.(*model.Record)
		rel := res.Relations[name]
		if related != nil && (!related.Exists() || len(related.Dirty()) > 0) {
			if err := p.manager.Persist(ctx, related); err != nil {
				return err
			}
		}
		key := "id"
		if target, ok := p.manager.Registry().Resource(rel.Target); ok {
			key = primaryKey(target)
		}
		rec.Associate(rel, related, key)
	}
	return nil
}

// RemoveProcessor deletes records and returns nil
type RemoveProcessor struct {
	manager *Manager
}

// NewRemoveProcessor creates a remove processor
func NewRemoveProcessor(manager *Manager) *RemoveProcessor {
	return &RemoveProcessor{manager: manager}
}

// Process implements state.Processor
func (p *RemoveProcessor) Process(ctx context.Context, data any, _ *metadata.Operation, _ *identifier.Values, _ *state.Context) (any, error) {
	rec, ok := data.(*model.Record)
	if !ok || rec == nil {
		return nil, nil
	}
	if err := p.manager.Remove(ctx, rec); err != nil {
		return nil, err
	}
	return nil, nil
}

var (
	_ state.Processor = (*PersistProcessor)(nil)
	_ state.Processor = (*RemoveProcessor)(nil)
)
