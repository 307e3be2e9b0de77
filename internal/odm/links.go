package odm

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// LinksHandler turns operation links into aggregation stages
type LinksHandler struct {
	manager *Manager
}

// NewLinksHandler creates a links handler
func NewLinksHandler(manager *Manager) *LinksHandler {
	return &LinksHandler{manager: manager}
}

// Apply returns the pipeline of resourceClass constrained by the links.
// A fromProperty link aggregates on the parent collection, looks the
// relation up under "<property>_lkup" and matches the current documents on
// the collected ids. A toProperty link looks its relation up on the current
// collection and matches the joined identifiers. Other links match the
// identifier fields directly.
func (h *LinksHandler) Apply(ctx context.Context, resourceClass string, ids *identifier.Values, op *metadata.Operation, sc *state.Context) (mongo.Pipeline, error) {
	if ids.Len() == 0 {
		return mongo.Pipeline{}, nil
	}
	links, err := state.ResolveLinks(h.manager.Registry(), resourceClass, op, sc)
	if err != nil {
		return nil, err
	}
	var usable []metadata.Link
	for _, l := range links {
		if l.ExpandedValue == "" && l.FromClass != "" {
			usable = append(usable, l)
		}
	}

	root := &aggregation{class: resourceClass}
	if err := h.build(ctx, resourceClass, usable, ids.Clone(), root); err != nil {
		return nil, err
	}
	return root.pipeline, nil
}

type aggregation struct {
	class    string
	pipeline mongo.Pipeline
}

func (a *aggregation) match(field string, value any) {
	a.pipeline = append(a.pipeline, bson.D{{Key: "$match", Value: bson.D{{Key: field, Value: value}}}})
}

func (h *LinksHandler) build(ctx context.Context, toClass string, links []metadata.Link, ids *identifier.Values, previous *aggregation) error {
	if len(links) == 0 {
		return nil
	}
	link, rest := links[0], links[1:]
	strategy := link.Strategy()

	aggregationClass, lookupProperty := link.FromClass, ""
	switch strategy {
	case metadata.LinkFromProperty:
		lookupProperty = link.FromProperty
	case metadata.LinkToProperty:
		aggregationClass, lookupProperty = toClass, link.ToProperty
	}
	lookupAlias := lookupProperty + "_lkup"

	res, err := h.manager.Resource(aggregationClass)
	if err != nil {
		return err
	}

	agg := previous
	if aggregationClass != previous.class {
		agg = &aggregation{class: aggregationClass}
	}

	if lookupProperty != "" {
		if rel, ok := res.Relation(lookupProperty); ok {
			stage, err := h.lookup(res, rel, lookupAlias)
			if err != nil {
				return err
			}
			agg.pipeline = append(agg.pipeline, stage)
		}
	}

	from, err := h.manager.Resource(link.FromClass)
	if err != nil {
		return err
	}
	identifiers := link.Identifiers
	if len(identifiers) == 0 {
		identifiers = from.Identifiers
	}
	for _, name := range identifiers {
		v, _ := state.IdentifierValue(ids, link, name)
		field := fieldName(from, name)
		if field == IDField {
			v = documentID(v)
		}
		if strategy == metadata.LinkToProperty {
			field = lookupAlias + "." + field
		}
		agg.match(field, v)
	}

	if err := h.build(ctx, link.FromClass, rest, ids, agg); err != nil {
		return err
	}

	if strategy != metadata.LinkFromProperty {
		return nil
	}

	results, err := h.manager.Aggregate(ctx, res, agg.pipeline)
	if err != nil {
		return err
	}
	in := bson.A{}
	for _, result := range results {
		for _, lookup := range asArray(result[lookupAlias]) {
			if doc, ok := lookup.(bson.M); ok {
				in = append(in, doc[IDField])
			}
		}
	}
	previous.match(IDField, bson.D{{Key: "$in", Value: in}})
	return nil
}

// lookup joins rel of res. References are stored on the declaring document
// unless the relation is mapped by a field of the target.
func (h *LinksHandler) lookup(res *metadata.Resource, rel *metadata.Relation, alias string) (bson.D, error) {
	target, err := h.manager.Resource(rel.Target)
	if err != nil {
		return nil, err
	}
	local, foreign := rel.Name, IDField
	switch {
	case rel.IsOwningSide():
		local = rel.ForeignKeyColumn(res.Class)
	case rel.MappedBy != "":
		local, foreign = IDField, rel.MappedBy
	case rel.ForeignKey != "":
		local, foreign = IDField, rel.ForeignKey
	}
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: target.CollectionName()},
		{Key: "localField", Value: local},
		{Key: "foreignField", Value: foreign},
		{Key: "as", Value: alias},
	}}}, nil
}

func asArray(v any) []any {
	switch t := v.(type) {
	case bson.A:
		return t
	case []any:
		return t
	}
	return nil
}
