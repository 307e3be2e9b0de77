package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/state"
)

var (
	// ErrMaxDepthExceeded is returned when includes nest deeper than allowed
	ErrMaxDepthExceeded = errors.New("maximum relationship depth exceeded")

	// ErrUnknownRelationship is returned when an include names no relation
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// EagerLoadingKey is the operation extra property listing relations to load
// with the results, e.g. ["author", "comments.author"].
const EagerLoadingKey = "eager"

// EagerLoader loads relations of records in one query per relation
type EagerLoader struct {
	registry state.ResourceRegistry
	maxDepth int
}

// NewEagerLoader creates a loader following includes up to maxDepth levels
func NewEagerLoader(registry state.ResourceRegistry, maxDepth int) *EagerLoader {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &EagerLoader{registry: registry, maxDepth: maxDepth}
}

// Includes returns the relations an operation asks to eager load
func Includes(op *metadata.Operation) []string {
	v, ok := op.Extra(EagerLoadingKey)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(list, ",")
	}
	return nil
}

// Load attaches the included relations to records
func (l *EagerLoader) Load(ctx context.Context, q query.Querier, records []*model.Record, res *metadata.Resource, includes []string) error {
	return l.load(ctx, q, records, res, includes, 1)
}

func (l *EagerLoader) load(ctx context.Context, q query.Querier, records []*model.Record, res *metadata.Resource, includes []string, depth int) error {
	if len(records) == 0 || len(includes) == 0 {
		return nil
	}
	if depth > l.maxDepth {
		return ErrMaxDepthExceeded
	}

	// "author.posts" loads author, then posts of the loaded authors
	nested := make(map[string][]string)
	var order []string
	for _, include := range includes {
		name, rest, _ := strings.Cut(include, ".")
		if _, seen := nested[name]; !seen {
			order = append(order, name)
			nested[name] = nil
		}
		if rest != "" {
			nested[name] = append(nested[name], rest)
		}
	}

	for _, name := range order {
		rel, ok := res.Relation(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, res.Class, name)
		}
		target, ok := l.registry.Resource(rel.Target)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRelationship, rel.Target)
		}

		related, err := l.loadRelation(ctx, q, records, res, target, rel)
		if err != nil {
			return fmt.Errorf("failed to load relationship %s: %w", name, err)
		}
		if err := l.load(ctx, q, related, target, nested[name], depth+1); err != nil {
			return err
		}
	}
	return nil
}

// loadRelation runs one query for all records and returns the loaded
// related records
func (l *EagerLoader) loadRelation(ctx context.Context, q query.Querier, records []*model.Record, owner, target *metadata.Resource, rel *metadata.Relation) ([]*model.Record, error) {
	fk := rel.ForeignKeyColumn(owner.Class)

	var keyOf func(*model.Record) any
	var matchColumn string
	if rel.IsOwningSide() {
		keyOf = func(r *model.Record) any { return r.Get(fk) }
		matchColumn = target.Column(primaryKey(target))
	} else {
		pk := primaryKey(owner)
		keyOf = func(r *model.Record) any { return r.Get(pk) }
		matchColumn = fk
	}

	seen := make(map[string]bool)
	keys := make([]any, 0, len(records))
	for _, r := range records {
		k := keyOf(r)
		if k == nil || seen[fmt.Sprint(k)] {
			continue
		}
		seen[fmt.Sprint(k)] = true
		keys = append(keys, k)
	}

	byKey := make(map[string][]*model.Record)
	var loaded []*model.Record
	if len(keys) > 0 {
		qb := query.New(target.TableName(), RootAlias)
		qb.Where(RootAlias+"."+matchColumn, query.OpIn, keys)
		for _, id := range target.Identifiers {
			qb.OrderBy(RootAlias+"."+target.Column(id), "ASC")
		}
		rows, err := qb.All(ctx, q)
		if err != nil {
			return nil, ConvertDBError(err)
		}
		for _, row := range rows {
			rec := Hydrate(target, row)
			k := fmt.Sprint(row[matchColumn])
			byKey[k] = append(byKey[k], rec)
			loaded = append(loaded, rec)
		}
	}

	for _, r := range records {
		k := keyOf(r)
		matches := byKey[fmt.Sprint(k)]
		switch {
		case rel.IsToMany():
			r.SetRelation(rel.Name, append([]*model.Record{}, matches...))
		case k == nil || len(matches) == 0:
			r.SetRelation(rel.Name, nil)
		default:
			r.SetRelation(rel.Name, matches[0])
		}
	}
	return loaded, nil
}

func primaryKey(res *metadata.Resource) string {
	if len(res.Identifiers) == 0 {
		return "id"
	}
	return res.Identifiers[0]
}

func recordsOf(items []any) []*model.Record {
	out := make([]*model.Record, 0, len(items))
	for _, item := range items {
		if r, ok := item.(*model.Record); ok {
			out = append(out, r)
		}
	}
	return out
}
