package pagination

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/conduit-lang/restkit/internal/state"
)

// EncodeCursor returns the opaque cursor of an offset: base64 of its decimal form.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeCursor returns the offset of a cursor. Empty and malformed cursors
// fail with a state.UnexpectedValueError.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, state.UnexpectedValue("Empty cursor is invalid")
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(cursor)
	if err != nil {
		return 0, state.UnexpectedValue("Cursor %s is invalid", cursor)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, state.UnexpectedValue("Cursor %s is invalid", cursor)
	}
	return offset, nil
}

// CursorArgs are the Relay connection arguments.
type CursorArgs struct {
	First  *int
	Last   *int
	After  *string
	Before *string
}

// CursorArgsFrom reads first, last, after and before from GraphQL arguments.
func CursorArgsFrom(args map[string]any) (CursorArgs, error) {
	var ca CursorArgs
	for name, dst := range map[string]**int{"first": &ca.First, "last": &ca.Last} {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		n, err := toInt(v)
		if err != nil {
			return ca, state.InvalidArgument("%s must be an integer", name)
		}
		*dst = &n
	}
	for name, dst := range map[string]**string{"after": &ca.After, "before": &ca.Before} {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		*dst = &s
	}
	return ca, nil
}

// PageInfo is the Relay page info.
type PageInfo struct {
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
}

// Edge is one item of a connection with its cursor.
type Edge struct {
	Cursor string `json:"cursor"`
	Node   any    `json:"node"`
}

// Connection is a Relay connection built from a paginator.
type Connection struct {
	Edges      []Edge   `json:"edges"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount float64  `json:"totalCount"`
}

// BuildConnection computes edges and page info for a page of results.
// Partial paginators are assumed to hold at least one item overall.
func BuildConnection(ctx context.Context, p PartialPaginator, args CursorArgs) (*Connection, error) {
	conn := &Connection{Edges: []Edge{}}

	totalItems := 1.0
	full, isFull := p.(Paginator)
	if isFull {
		totalItems = full.TotalItems()
	}
	pageItems := p.Count()

	offset := 0
	if args.After != nil {
		after, err := DecodeCursor(*args.After)
		if err != nil {
			return nil, err
		}
		offset = after + 1
	}
	if args.Before != nil {
		before, err := DecodeCursor(*args.Before)
		if err != nil {
			return nil, err
		}
		offset = before - pageItems
	}
	if args.Last != nil && args.Before == nil {
		offset = int(totalItems) - *args.Last
	}
	if offset < 0 {
		offset = 0
	}

	if totalItems > 0 {
		start := EncodeCursor(offset)
		end := offset + pageItems - 1
		if end < 0 {
			end = 0
		}
		endCursor := EncodeCursor(end)
		conn.PageInfo.StartCursor = &start
		conn.PageInfo.EndCursor = &endCursor
		conn.PageInfo.HasPreviousPage = p.CurrentPage() > 1

		if isFull {
			conn.TotalCount = totalItems
			itemsPerPage := p.ItemsPerPage()
			rest := float64(offset)
			if itemsPerPage > 0 {
				rest = float64(offset % int(itemsPerPage))
			}
			conn.PageInfo.HasNextPage = rest+itemsPerPage*p.CurrentPage() < totalItems
		}
	}

	items, err := p.Items(ctx)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		conn.Edges = append(conn.Edges, Edge{Cursor: EncodeCursor(offset + i), Node: item})
	}
	return conn, nil
}
