package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// Options are the global pagination settings; operations override them.
type Options struct {
	Enabled                   bool   `mapstructure:"enabled"`
	ClientEnabled             bool   `mapstructure:"client_enabled"`
	ClientItemsPerPage        bool   `mapstructure:"client_items_per_page"`
	ItemsPerPage              int    `mapstructure:"items_per_page"`
	MaximumItemsPerPage       int    `mapstructure:"maximum_items_per_page"`
	Partial                   bool   `mapstructure:"partial"`
	ClientPartial             bool   `mapstructure:"client_partial"`
	PageParameterName         string `mapstructure:"page_parameter_name"`
	EnabledParameterName      string `mapstructure:"enabled_parameter_name"`
	ItemsPerPageParameterName string `mapstructure:"items_per_page_parameter_name"`
	PartialParameterName      string `mapstructure:"partial_parameter_name"`
}

// DefaultOptions returns the default pagination settings
func DefaultOptions() Options {
	return Options{
		Enabled:                   true,
		ItemsPerPage:              30,
		PageParameterName:         "page",
		EnabledParameterName:      "pagination",
		ItemsPerPageParameterName: "itemsPerPage",
		PartialParameterName:      "partial",
	}
}

// Pagination resolves the page window of a request
type Pagination struct {
	opts Options
}

// New creates a Pagination from options
func New(opts Options) *Pagination {
	return &Pagination{opts: opts}
}

// Options returns the global settings
func (p *Pagination) Options() Options { return p.opts }

// Window is the slice of a collection to fetch. FromEnd is set for GraphQL
// "last" without "before": the offset then depends on the total count.
type Window struct {
	Offset  int
	Limit   int
	FromEnd bool
}

// OffsetFor returns the offset once the total is known.
func (w Window) OffsetFor(total int) int {
	if !w.FromEnd {
		return w.Offset
	}
	if total-w.Limit < 0 {
		return 0
	}
	return total - w.Limit
}

// IsEnabled reports whether the collection is paginated.
func (p *Pagination) IsEnabled(op *metadata.Operation, sc *state.Context) bool {
	pg := op.Pagination()
	enabled := boolOr(pg.Enabled, p.opts.Enabled)
	if boolOr(pg.ClientEnabled, p.opts.ClientEnabled) {
		if v, ok := p.parameter(op, sc, p.opts.EnabledParameterName); ok {
			return toBool(v)
		}
	}
	return enabled
}

// IsPartial reports whether the total count is skipped.
func (p *Pagination) IsPartial(op *metadata.Operation, sc *state.Context) bool {
	partial := boolOr(op.Pagination().Partial, p.opts.Partial)
	if p.opts.ClientPartial {
		if v, ok := p.parameter(op, sc, p.opts.PartialParameterName); ok {
			return toBool(v)
		}
	}
	return partial
}

// Limit returns the number of items per page.
func (p *Pagination) Limit(op *metadata.Operation, sc *state.Context) (int, error) {
	pg := op.Pagination()
	limit := intOr(pg.ItemsPerPage, p.opts.ItemsPerPage)
	maximum := intOr(pg.MaximumItemsPerPage, p.opts.MaximumItemsPerPage)

	if op.IsGraphQL() {
		for _, name := range []string{"first", "last"} {
			if v, ok := p.parameter(op, sc, name); ok {
				n, err := toInt(v)
				if err != nil {
					return 0, state.InvalidArgument("%s must be an integer", name)
				}
				limit = n
			}
		}
	} else if boolOr(pg.ClientItemsPerPage, p.opts.ClientItemsPerPage) {
		if v, ok := p.parameter(op, sc, p.opts.ItemsPerPageParameterName); ok {
			n, err := toInt(v)
			if err != nil {
				return 0, state.InvalidArgument("%s must be an integer", p.opts.ItemsPerPageParameterName)
			}
			limit = n
		}
	}

	if maximum > 0 && limit > maximum {
		limit = maximum
	}
	if limit < 0 {
		return 0, state.InvalidArgument("Limit should not be less than 0")
	}
	return limit, nil
}

// Page returns the requested page, 1 by default.
func (p *Pagination) Page(op *metadata.Operation, sc *state.Context) (int, error) {
	v, ok := p.parameter(op, sc, p.opts.PageParameterName)
	if !ok {
		return 1, nil
	}
	page, err := toInt(v)
	if err != nil {
		return 0, state.InvalidArgument("Page must be an integer")
	}
	if page < 1 {
		return 0, state.InvalidArgument("Page should not be less than 1")
	}
	return page, nil
}

// Window returns the offset and limit of the request.
func (p *Pagination) Window(op *metadata.Operation, sc *state.Context) (Window, error) {
	limit, err := p.Limit(op, sc)
	if err != nil {
		return Window{}, err
	}

	if op.IsGraphQL() {
		args, err := CursorArgsFrom(argsOf(sc))
		if err != nil {
			return Window{}, err
		}
		switch {
		case args.After != nil:
			after, err := DecodeCursor(*args.After)
			if err != nil {
				return Window{}, err
			}
			return Window{Offset: after + 1, Limit: limit}, nil
		case args.Before != nil:
			before, err := DecodeCursor(*args.Before)
			if err != nil {
				return Window{}, err
			}
			offset := before - limit
			if offset < 0 {
				offset = 0
			}
			return Window{Offset: offset, Limit: limit}, nil
		case args.Last != nil:
			return Window{Limit: limit, FromEnd: true}, nil
		}
	}

	page, err := p.Page(op, sc)
	if err != nil {
		return Window{}, err
	}
	return Window{Offset: (page - 1) * limit, Limit: limit}, nil
}

func (p *Pagination) parameter(op *metadata.Operation, sc *state.Context, name string) (any, bool) {
	if sc == nil {
		return nil, false
	}
	if op.IsGraphQL() {
		v, ok := sc.Args[name]
		return v, ok && v != nil
	}
	if sc.Filters == nil {
		return nil, false
	}
	return sc.Filters.Get(name)
}

func argsOf(sc *state.Context) map[string]any {
	if sc == nil {
		return nil
	}
	return sc.Args
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case []string:
		if len(n) > 0 {
			return strconv.Atoi(strings.TrimSpace(n[0]))
		}
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on", "yes":
			return true
		}
	}
	return false
}
