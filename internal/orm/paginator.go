package orm

import (
	"context"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/pagination"
)

// Paginator is a page of records with the total count of the query
type Paginator struct {
	PartialPaginator
	total int
}

// NewPaginator counts the matching rows, then reads the page
func NewPaginator(ctx context.Context, q query.Querier, qb *query.Builder, res *metadata.Resource) (*Paginator, error) {
	total, err := qb.Count(ctx, q)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return newPaginatorWithTotal(ctx, q, qb, res, total)
}

func newPaginatorWithTotal(ctx context.Context, q query.Querier, qb *query.Builder, res *metadata.Resource, total int) (*Paginator, error) {
	rows, err := qb.All(ctx, q)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return &Paginator{PartialPaginator: pageOf(qb, res, rows), total: total}, nil
}

// TotalItems implements pagination.Paginator
func (p *Paginator) TotalItems() float64 { return float64(p.total) }

// LastPage implements pagination.Paginator
func (p *Paginator) LastPage() float64 { return pagination.LastPage(float64(p.total), p.limit) }

// PartialPaginator is a page of records without a total count
type PartialPaginator struct {
	items  []any
	offset int
	limit  int
}

func newPartialPaginator(ctx context.Context, q query.Querier, qb *query.Builder, res *metadata.Resource) (*PartialPaginator, error) {
	rows, err := qb.All(ctx, q)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	p := pageOf(qb, res, rows)
	return &p, nil
}

func pageOf(qb *query.Builder, res *metadata.Resource, rows []map[string]any) PartialPaginator {
	items := make([]any, len(rows))
	for i, row := range rows {
		items[i] = Hydrate(res, row)
	}
	return PartialPaginator{items: items, offset: qb.FirstResult(), limit: qb.MaxResults()}
}

func (p *PartialPaginator) Count() int { return len(p.items) }
func (p *PartialPaginator) CurrentPage() float64 { return pagination.CurrentPage(p.offset, p.limit) }
func (p *PartialPaginator) ItemsPerPage() float64 { return float64(max(p.limit, 0)) }

// Items implements pagination.PartialPaginator
func (p *PartialPaginator) Items(context.Context) ([]any, error) { return p.items, nil }

var (
	_ pagination.Paginator        = (*Paginator)(nil)
	_ pagination.PartialPaginator = (*PartialPaginator)(nil)
)
