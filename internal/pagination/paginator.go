// Package pagination provides the paginator contract shared by every
// backend, the request pagination options and Relay cursor connections.
package pagination

import (
	"context"
	"math"
	"sync"
)

// PartialPaginator is a page of results without a total count.
type PartialPaginator interface {
	// Count returns the number of items on the current page.
	Count() int
	CurrentPage() float64
	ItemsPerPage() float64
	// Items returns the denormalized items. The first call loads them, later
	// calls return the cached slice.
	Items(ctx context.Context) ([]any, error)
}

// Paginator is a page of results with a total count.
type Paginator interface {
	PartialPaginator
	TotalItems() float64
	LastPage() float64
}

// CurrentPage returns floor(offset/limit)+1, or 1 when limit <= 0.
func CurrentPage(offset, limit int) float64 {
	if limit <= 0 {
		return 1
	}
	return math.Floor(float64(offset)/float64(limit)) + 1
}

// LastPage returns max(1, ceil(total/limit)), or 1 when limit <= 0.
func LastPage(total float64, limit int) float64 {
	if limit <= 0 {
		return 1
	}
	return math.Max(1, math.Ceil(total/float64(limit)))
}

// LazyItems loads and caches the items of a page once.
type LazyItems struct {
	once  sync.Once
	load  func(ctx context.Context) ([]any, error)
	items []any
	err   error
}

// NewLazyItems wraps a loader.
func NewLazyItems(load func(ctx context.Context) ([]any, error)) *LazyItems {
	return &LazyItems{load: load}
}

// Get runs the loader on first use.
func (l *LazyItems) Get(ctx context.Context) ([]any, error) {
	l.once.Do(func() {
		l.items, l.err = l.load(ctx)
	})
	return l.items, l.err
}

// TraversablePaginator wraps already loaded items with explicit page data.
type TraversablePaginator struct {
	items        []any
	currentPage  float64
	itemsPerPage float64
	totalItems   float64
}

// NewTraversablePaginator creates a paginator over one loaded page.
func NewTraversablePaginator(items []any, currentPage, itemsPerPage, totalItems float64) *TraversablePaginator {
	return &TraversablePaginator{items: items, currentPage: currentPage, itemsPerPage: itemsPerPage, totalItems: totalItems}
}

func (p *TraversablePaginator) Count() int { return len(p.items) }
func (p *TraversablePaginator) CurrentPage() float64 { return p.currentPage }
func (p *TraversablePaginator) ItemsPerPage() float64 { return p.itemsPerPage }
func (p *TraversablePaginator) TotalItems() float64 { return p.totalItems }
func (p *TraversablePaginator) Items(context.Context) ([]any, error) { return p.items, nil }

// LastPage implements Paginator
func (p *TraversablePaginator) LastPage() float64 {
	if p.itemsPerPage <= 0 {
		return 1
	}
	return math.Max(1, math.Ceil(p.totalItems/p.itemsPerPage))
}

// ArrayPaginator pages through an in-memory slice.
type ArrayPaginator struct {
	all    []any
	offset int
	limit  int
}

// NewArrayPaginator creates a paginator showing limit items from offset.
func NewArrayPaginator(all []any, offset, limit int) *ArrayPaginator {
	return &ArrayPaginator{all: all, offset: offset, limit: limit}
}

func (p *ArrayPaginator) page() []any {
	if p.offset >= len(p.all) {
		return []any{}
	}
	end := len(p.all)
	if p.limit > 0 && p.offset+p.limit < end {
		end = p.offset + p.limit
	}
	return p.all[p.offset:end]
}

func (p *ArrayPaginator) Count() int { return len(p.page()) }
func (p *ArrayPaginator) CurrentPage() float64 { return CurrentPage(p.offset, p.limit) }
func (p *ArrayPaginator) ItemsPerPage() float64 { return float64(p.limit) }
func (p *ArrayPaginator) TotalItems() float64 { return float64(len(p.all)) }
func (p *ArrayPaginator) LastPage() float64 { return LastPage(float64(len(p.all)), p.limit) }

// Items implements PartialPaginator
func (p *ArrayPaginator) Items(context.Context) ([]any, error) { return p.page(), nil }
