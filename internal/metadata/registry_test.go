package metadata

import (
	"errors"
	"testing"
)

func newBlogResources() (*Resource, *Resource) {
	blog := NewResource("Blog").
		AddField(&Field{Name: "id", Type: TypeInt}).
		AddField(&Field{Name: "title", Type: TypeString}).
		AddRelation(&Relation{Name: "posts", Type: RelationHasMany, Target: "Post", ForeignKey: "blog_id", MappedBy: "blog"}).
		AddOperation(NewOperation(KindGet, "Blog"))

	post := NewResource("Post").
		AddField(&Field{Name: "id", Type: TypeInt}).
		AddField(&Field{Name: "blog", Type: TypeInt, Column: "blog_id"}).
		AddRelation(&Relation{Name: "blog", Type: RelationBelongsTo, Target: "Blog", ForeignKey: "blog_id"}).
		AddOperation(NewOperation(KindGetCollection, "Post").
			WithURITemplate("/blogs/{blogId}/posts").
			WithURIVariables(Link{ParameterName: "blogId", FromClass: "Blog", FromProperty: "posts", Identifiers: []string{"id"}})).
		AddOperation(NewOperation(KindQueryCollection, "Post"))

	return blog, post
}

func TestRegistry(t *testing.T) {
	t.Run("register and get resource", func(t *testing.T) {
		registry := NewRegistry()
		blog, post := newBlogResources()

		if err := registry.Register(blog); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := registry.Register(post); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		retrieved, exists := registry.Resource("Blog")
		if !exists {
			t.Fatal("resource should exist")
		}
		if retrieved.TableName() != "blogs" {
			t.Errorf("expected blogs, got %s", retrieved.TableName())
		}
		if registry.Count() != 2 {
			t.Errorf("expected 2 resources, got %d", registry.Count())
		}
	})

	t.Run("duplicate registration", func(t *testing.T) {
		registry := NewRegistry()
		blog, _ := newBlogResources()

		_ = registry.Register(blog)
		if err := registry.Register(blog); err == nil {
			t.Error("expected error for duplicate registration")
		}
	})

	t.Run("item operation defaults", func(t *testing.T) {
		registry := NewRegistry()
		blog, _ := newBlogResources()
		_ = registry.Register(blog)

		op, err := registry.ItemOperation("Blog")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if op.URITemplate() != "/blogs/{id}" {
			t.Errorf("expected /blogs/{id}, got %s", op.URITemplate())
		}
		if op.Name() != "_api_/blogs/{id}_get" {
			t.Errorf("unexpected name %s", op.Name())
		}
		link, ok := op.URIVariable("id")
		if !ok {
			t.Fatal("expected derived id link")
		}
		if link.FromClass != "Blog" || len(link.Identifiers) != 1 || link.Identifiers[0] != "id" {
			t.Errorf("unexpected derived link %+v", link)
		}
	})

	t.Run("composite identifiers derive composite link", func(t *testing.T) {
		registry := NewRegistry()
		res := NewResource("Composite")
		res.Identifiers = []string{"foo", "bar"}
		res.AddOperation(NewOperation(KindGet, "Composite"))
		_ = registry.Register(res)

		op, _ := registry.ItemOperation("Composite")
		link, _ := op.URIVariable("id")
		if !link.CompositeIdentifier {
			t.Error("expected composite link")
		}
	})

	t.Run("graphql names", func(t *testing.T) {
		registry := NewRegistry()
		blog, post := newBlogResources()
		_ = registry.Register(blog)
		_ = registry.Register(post)

		op, err := registry.Operation("Post", "collection_query")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if op.Kind() != KindQueryCollection {
			t.Errorf("unexpected kind %s", op.Kind())
		}
	})

	t.Run("missing operation", func(t *testing.T) {
		registry := NewRegistry()
		_, err := registry.Operation("Nope", "get")
		if !errors.Is(err, ErrResourceNotFound) {
			t.Errorf("expected ErrResourceNotFound, got %v", err)
		}
	})
}

func TestRegistryValidateAll(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		registry := NewRegistry()
		blog, post := newBlogResources()
		_ = registry.Register(blog)
		_ = registry.Register(post)

		if err := registry.ValidateAll(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown relation target", func(t *testing.T) {
		registry := NewRegistry()
		_, post := newBlogResources()
		_ = registry.Register(post)

		if err := registry.ValidateAll(); err == nil {
			t.Error("expected error for missing Blog")
		}
	})

	t.Run("uri variable without link", func(t *testing.T) {
		registry := NewRegistry()
		res := NewResource("Comment").
			AddOperation(NewOperation(KindGetCollection, "Comment").WithURITemplate("/posts/{postId}/comments"))
		_ = registry.Register(res)

		if err := registry.ValidateAll(); err == nil {
			t.Error("expected error for unlinked postId")
		}
	})
}

func TestNaming(t *testing.T) {
	tests := map[string]string{
		"Dummy":        "dummies",
		"BlogPost":     "blog_posts",
		"Address":      "addresses",
		"HTTPResource": "http_resources",
	}
	for in, want := range tests {
		if got := Pluralize(ToSnakeCase(in)); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestForeignKeyColumn(t *testing.T) {
	tests := []struct {
		rel  Relation
		want string
	}{
		{Relation{Name: "blog", Type: RelationBelongsTo}, "blog_id"},
		{Relation{Name: "author", Type: RelationBelongsTo, ForeignKey: "writer_id"}, "writer_id"},
		{Relation{Name: "posts", Type: RelationHasMany, MappedBy: "blog"}, "blog_id"},
		{Relation{Name: "posts", Type: RelationHasMany}, "blog_post_id"},
	}
	for _, tt := range tests {
		if got := tt.rel.ForeignKeyColumn("BlogPost"); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.rel.Name, tt.want, got)
		}
	}
}
