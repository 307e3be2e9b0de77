package query

import (
	"context"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/conduit-lang/restkit/internal/metadata"
)

func TestBuilder_ToSQL(t *testing.T) {
	b := New("orders", "o").
		AndWhere("o.id = :id_id").
		SetParameter("id_id", 5, metadata.TypeInt)

	sql, args, err := b.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}

	expected := `SELECT o.* FROM "orders" o WHERE o.id = $1`
	if sql != expected {
		t.Errorf("Expected SQL: %s, got: %s", expected, sql)
	}
	if !reflect.DeepEqual(args, []any{5}) {
		t.Errorf("Expected args [5], got %v", args)
	}
}

func TestBuilder_JoinsOrderAndPagination(t *testing.T) {
	b := New("posts", "o")
	alias := b.Names().JoinAlias("blog")
	b.InnerJoin("blogs", alias, alias+".id = o.blog_id").
		AndWhere(alias + ".id = :id_id").
		SetParameter("id_id", 3, metadata.TypeInt).
		Where("o.status", OpEqual, "published").
		OrderBy("o.id", "desc").
		Limit(10).
		Offset(20)

	sql, args, err := b.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}

	expected := `SELECT o.* FROM "posts" o INNER JOIN "blogs" blog_a0 ON blog_a0.id = o.blog_id` +
		` WHERE (blog_a0.id = $1) AND (o.status = $2) ORDER BY o.id DESC LIMIT 10 OFFSET 20`
	if sql != expected {
		t.Errorf("Expected SQL:\n%s\ngot:\n%s", expected, sql)
	}
	if !reflect.DeepEqual(args, []any{3, "published"}) {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestBuilder_RepeatedParameter(t *testing.T) {
	b := New("books", "o").
		AndWhere("o.author_id = :author OR o.editor_id = :author").
		SetParameter("author", 7, 0)

	sql, args, err := b.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	expected := `SELECT o.* FROM "books" o WHERE o.author_id = $1 OR o.editor_id = $1`
	if sql != expected {
		t.Errorf("Expected SQL: %s, got: %s", expected, sql)
	}
	if len(args) != 1 {
		t.Errorf("Expected 1 arg, got %d", len(args))
	}
}

func TestBuilder_UnboundParameter(t *testing.T) {
	_, _, err := New("books", "o").AndWhere("o.id = :missing").ToSQL()
	if err == nil {
		t.Fatal("Expected error for unbound parameter")
	}
}

func TestBuilder_CastsAndLiterals(t *testing.T) {
	b := New("books", "o").
		AndWhere("o.id::text = :id").
		AndWhere("o.note <> 'a:b'").
		SetParameter("id", "1", 0)

	sql, _, err := b.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	expected := `SELECT o.* FROM "books" o WHERE (o.id::text = $1) AND (o.note <> 'a:b')`
	if sql != expected {
		t.Errorf("Expected SQL: %s, got: %s", expected, sql)
	}
}

func TestBuilder_CountSQL(t *testing.T) {
	b := New("books", "o").Where("o.title", OpILike, "%go%").OrderBy("o.id", "ASC").Limit(5)

	sql, args, err := b.CountSQL()
	if err != nil {
		t.Fatalf("CountSQL failed: %v", err)
	}
	expected := `SELECT COUNT(*) FROM (SELECT o.* FROM "books" o WHERE o.title ILIKE $1) AS count_query`
	if sql != expected {
		t.Errorf("Expected SQL: %s, got: %s", expected, sql)
	}
	if len(args) != 1 {
		t.Errorf("Expected 1 arg, got %d", len(args))
	}
}

func TestBuilder_Clone(t *testing.T) {
	b := New("books", "o").Where("o.id", OpEqual, 1)
	clone := b.Clone().Where("o.title", OpEqual, "x").Limit(3)

	if len(b.Predicates()) != 1 {
		t.Errorf("Clone changed the original predicates")
	}
	if b.MaxResults() != -1 {
		t.Errorf("Clone changed the original limit")
	}
	if clone.ParameterCount() != 2 {
		t.Errorf("Expected 2 parameters on clone, got %d", clone.ParameterCount())
	}
}

func TestNameGenerator(t *testing.T) {
	g := NewNameGenerator()
	if got := g.ParameterName("id_id"); got != "id_id" {
		t.Errorf("Expected id_id, got %s", got)
	}
	if got := g.ParameterName("id_id"); got != "id_id_1" {
		t.Errorf("Expected id_id_1, got %s", got)
	}
	if got := g.ParameterName("id_id"); got != "id_id_2" {
		t.Errorf("Expected id_id_2, got %s", got)
	}
	if got := g.JoinAlias("author"); got != "author_a0" {
		t.Errorf("Expected author_a0, got %s", got)
	}
	if got := g.JoinAlias("author"); got != "author_a1" {
		t.Errorf("Expected author_a1, got %s", got)
	}
}

func TestBuilder_InvalidIdentifierPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for invalid table name")
		}
	}()
	New("books; DROP TABLE x", "o")
}

func TestBuilder_AllAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := New("books", "o").Where("o.id", OpEqual, 5)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT o.* FROM "books" o WHERE o.id = $1`)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(5, []byte("Dune")))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM (SELECT o.* FROM "books" o WHERE o.id = $1) AS count_query`)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	row, err := b.OneOrNull(context.Background(), db)
	if err != nil {
		t.Fatalf("OneOrNull failed: %v", err)
	}
	if row["title"] != "Dune" {
		t.Errorf("Expected title Dune, got %v", row["title"])
	}

	count, err := b.Count(context.Background(), db)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuilder_OneOrNullEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	row, err := New("books", "o").OneOrNull(context.Background(), db)
	if err != nil {
		t.Fatalf("OneOrNull failed: %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row, got %v", row)
	}
}
