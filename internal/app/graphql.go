package app

import (
	"context"

	"github.com/conduit-lang/restkit/internal/apierror"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// ResolveGraphQL runs a GraphQL operation for a schema resolver. The data
// comes from the provider chain; mutations and subscriptions then go through
// the GraphQL processor. Paginated collections are returned as Relay
// connections holding the provided items. Failures are returned as
// *gqlerror.Error values.
func (a *App) ResolveGraphQL(ctx context.Context, op *metadata.Operation, sc *state.Context) (any, error) {
	if sc == nil {
		sc = &state.Context{}
	}
	sc.Operation = op

	data, err := a.Provider.Provide(ctx, op, nil, sc)
	if err == nil {
		data, err = a.resolveGraphQL(ctx, op, data, sc)
	}
	if err != nil {
		return nil, apierror.GraphQL(err, op, a.Config.Debug)
	}
	return data, nil
}

func (a *App) resolveGraphQL(ctx context.Context, op *metadata.Operation, data any, sc *state.Context) (any, error) {
	switch {
	case op.Kind() == metadata.KindMutation || op.Kind() == metadata.KindSubscription:
		return a.GraphQLProcessor.Process(ctx, data, op, nil, sc)
	case op.IsCollection():
		page, ok := data.(pagination.PartialPaginator)
		if !ok {
			return data, nil
		}
		args, err := pagination.CursorArgsFrom(sc.Args)
		if err != nil {
			return nil, err
		}
		return pagination.BuildConnection(ctx, page, args)
	}
	return data, nil
}
