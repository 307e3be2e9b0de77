package app

import (
	"github.com/conduit-lang/restkit/internal/metadata"
)

// Service names of the built-in backends. Operations reference them as
// provider and processor.
const (
	ORMItemProvider       = "orm.item_provider"
	ORMCollectionProvider = "orm.collection_provider"
	ORMPersistProcessor   = "orm.persist_processor"
	ORMRemoveProcessor    = "orm.remove_processor"

	ODMItemProvider       = "odm.item_provider"
	ODMCollectionProvider = "odm.collection_provider"
	ODMPersistProcessor   = "odm.persist_processor"
	ODMRemoveProcessor    = "odm.remove_processor"

	SearchItemProvider       = "search.item_provider"
	SearchCollectionProvider = "search.collection_provider"
)

type backend string

const (
	backendNone   backend = ""
	backendORM    backend = "orm"
	backendODM    backend = "odm"
	backendSearch backend = "search"
)

// defaultBackend picks the backend serving operations that name no
// provider: the database, then the document store, then the search index.
func defaultBackend(b Backends) backend {
	switch {
	case b.SQL != nil:
		return backendORM
	case b.Mongo != nil:
		return backendODM
	case b.Search != nil:
		return backendSearch
	}
	return backendNone
}

// assignServices fills the provider and processor of operations that leave
// them empty with the services of the resource's backend. A resource with an
// index and no table or collection is served by the search backend.
func assignServices(res *metadata.Resource, fallback backend) {
	b := fallback
	switch {
	case res.Index != "" && res.Table == "" && res.Collection == "":
		b = backendSearch
	case res.Collection != "" && res.Table == "":
		b = backendODM
	case res.Table != "":
		b = backendORM
	}
	if b == backendNone {
		return
	}

	for i, op := range res.Operations {
		res.Operations[i] = withServices(op, b)
	}
	for i, op := range res.GraphQLOperations {
		res.GraphQLOperations[i] = withServices(op, b)
	}
}

func withServices(op *metadata.Operation, b backend) *metadata.Operation {
	if op.Provider() == "" {
		if op.IsCollection() {
			op = op.WithProvider(string(b) + ".collection_provider")
		} else {
			op = op.WithProvider(string(b) + ".item_provider")
		}
	}
	if op.Processor() == "" && b != backendSearch && writes(op) {
		if op.Kind() == metadata.KindDelete || op.IsDeleteMutation() {
			op = op.WithProcessor(string(b) + ".remove_processor")
		} else {
			op = op.WithProcessor(string(b) + ".persist_processor")
		}
	}
	return op
}

func writes(op *metadata.Operation) bool {
	switch op.Kind() {
	case metadata.KindPost, metadata.KindPut, metadata.KindPatch, metadata.KindDelete, metadata.KindMutation:
		return true
	}
	return false
}
