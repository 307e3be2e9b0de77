package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentPage(t *testing.T) {
	tests := []struct {
		offset, limit int
		want          float64
	}{
		{0, 10, 1},
		{9, 10, 1},
		{10, 10, 2},
		{25, 10, 3},
		{5, 0, 1},
		{5, -1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CurrentPage(tt.offset, tt.limit), "offset=%d limit=%d", tt.offset, tt.limit)
	}
}

func TestLastPage(t *testing.T) {
	assert.Equal(t, 1.0, LastPage(0, 10))
	assert.Equal(t, 1.0, LastPage(10, 10))
	assert.Equal(t, 2.0, LastPage(11, 10))
	assert.Equal(t, 5.0, LastPage(42, 10))
	assert.Equal(t, 1.0, LastPage(42, 0))
}

func TestPageArithmeticHolds(t *testing.T) {
	for limit := 1; limit <= 12; limit++ {
		for offset := 0; offset < 60; offset++ {
			cp := CurrentPage(offset, limit)
			assert.GreaterOrEqual(t, cp, 1.0)
			assert.Equal(t, float64(offset/limit+1), cp)
		}
		for total := 0; total < 60; total++ {
			lp := LastPage(float64(total), limit)
			assert.GreaterOrEqual(t, lp*float64(limit), float64(total))
			assert.GreaterOrEqual(t, lp, 1.0)
		}
	}
}

func TestLazyItemsLoadsOnce(t *testing.T) {
	calls := 0
	lazy := NewLazyItems(func(context.Context) ([]any, error) {
		calls++
		return []any{"a", "b"}, nil
	})

	for i := 0; i < 3; i++ {
		items, err := lazy.Get(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}
	assert.Equal(t, 1, calls)
}

func TestLazyItemsKeepsError(t *testing.T) {
	boom := errors.New("boom")
	lazy := NewLazyItems(func(context.Context) ([]any, error) { return nil, boom })

	_, err := lazy.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = lazy.Get(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestArrayPaginator(t *testing.T) {
	all := make([]any, 42)
	for i := range all {
		all[i] = i
	}

	p := NewArrayPaginator(all, 30, 15)
	assert.Equal(t, 12, p.Count())
	assert.Equal(t, 3.0, p.CurrentPage())
	assert.Equal(t, 3.0, p.LastPage())
	assert.Equal(t, 42.0, p.TotalItems())

	items, err := p.Items(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, items[0])

	empty := NewArrayPaginator(all, 100, 15)
	assert.Equal(t, 0, empty.Count())
}

func TestTraversablePaginator(t *testing.T) {
	p := NewTraversablePaginator([]any{1, 2}, 2, 2, 5)
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, 3.0, p.LastPage())

	zero := NewTraversablePaginator(nil, 1, 0, 5)
	assert.Equal(t, 1.0, zero.LastPage())
}
