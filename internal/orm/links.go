package orm

import (
	"fmt"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/state"
)

// LinksHandler turns the links of an operation into joins and predicates
type LinksHandler struct {
	registry state.ResourceRegistry
}

// NewLinksHandler creates a links handler
func NewLinksHandler(registry state.ResourceRegistry) *LinksHandler {
	return &LinksHandler{registry: registry}
}

// Apply constrains qb, rooted on resourceClass, to the identifiers. Each link
// picks one strategy: FromProperty joins the parent table through the
// parent's relation, ToProperty joins through the current resource's
// relation, and direct links compare the identifier column. Links with an
// expanded value or no FromClass are skipped.
func (h *LinksHandler) Apply(qb *query.Builder, resourceClass string, ids *identifier.Values, op *metadata.Operation, sc *state.Context) error {
	if ids.Len() == 0 {
		return nil
	}

	links, err := state.ResolveLinks(h.registry, resourceClass, op, sc)
	if err != nil {
		return err
	}

	ids = ids.Clone()
	previousAlias := qb.RootAlias()
	previousClass := resourceClass

	for _, link := range links {
		if link.ExpandedValue != "" || link.FromClass == "" {
			continue
		}

		from, ok := h.registry.Resource(link.FromClass)
		if !ok {
			return state.Runtime("No manager for class %q.", link.FromClass)
		}
		current, ok := h.registry.Resource(previousClass)
		if !ok {
			return state.Runtime("No manager for class %q.", previousClass)
		}

		switch link.Strategy() {
		case metadata.LinkDirect:
			alias := previousAlias
			if link.FromClass == resourceClass {
				alias = qb.RootAlias()
			}
			constrain(qb, alias, from, link, ids)
			previousAlias, previousClass = alias, link.FromClass

		case metadata.LinkFromProperty:
			rel, ok := from.Relation(link.FromProperty)
			if !ok {
				return state.Runtime("The property %q is not a relation of %q.", link.FromProperty, link.FromClass)
			}
			joinAlias := qb.Names().JoinAlias(link.FromProperty)
			qb.InnerJoin(from.TableName(), joinAlias, joinCondition(joinAlias, from, previousAlias, current, rel))
			constrain(qb, joinAlias, from, link, ids)
			previousAlias, previousClass = joinAlias, link.FromClass

		case metadata.LinkToProperty:
			rel, ok := current.Relation(link.ToProperty)
			if !ok {
				return state.Runtime("The property %q is not a relation of %q.", link.ToProperty, previousClass)
			}
			target, ok := h.registry.Resource(rel.Target)
			if !ok {
				return state.Runtime("No manager for class %q.", rel.Target)
			}
			joinAlias := qb.Names().JoinAlias(link.ToProperty)
			qb.InnerJoin(target.TableName(), joinAlias, joinCondition(previousAlias, current, joinAlias, target, rel))
			constrain(qb, joinAlias, from, link, ids)
			previousAlias, previousClass = joinAlias, target.Class
		}
	}
	return nil
}

// joinCondition relates ownerAlias (declaring rel) and otherAlias (its target)
// on the side holding the foreign key
func joinCondition(ownerAlias string, owner *metadata.Resource, otherAlias string, other *metadata.Resource, rel *metadata.Relation) string {
	fk := rel.ForeignKeyColumn(owner.Class)
	if rel.IsOwningSide() {
		return fmt.Sprintf("%s.%s = %s.%s", otherAlias, primaryColumn(other), ownerAlias, fk)
	}
	return fmt.Sprintf("%s.%s = %s.%s", ownerAlias, primaryColumn(owner), otherAlias, fk)
}

// constrain adds alias.<identifier> = :id_<identifier> for each link identifier
func constrain(qb *query.Builder, alias string, from *metadata.Resource, link metadata.Link, ids *identifier.Values) {
	identifiers := link.Identifiers
	if len(identifiers) == 0 {
		identifiers = from.Identifiers
	}
	for _, name := range identifiers {
		v, _ := state.IdentifierValue(ids, link, name)
		placeholder := qb.Names().ParameterName("id_" + name)
		qb.AndWhere(fmt.Sprintf("%s.%s = :%s", alias, from.Column(name), placeholder)).
			SetParameter(placeholder, v, from.IdentifierType(name))
	}
}

func primaryColumn(res *metadata.Resource) string {
	if len(res.Identifiers) == 0 {
		return "id"
	}
	return res.Column(res.Identifiers[0])
}
