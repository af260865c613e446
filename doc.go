// Package ravendb is a client for a RavenDB document database.
//
// # Store and sessions
//
// A [DocumentStore] is created once per application from a [Config] and is
// safe for concurrent use. Work happens in a [Session], a short lived unit of
// work that is not safe for concurrent use:
//
//	store, err := ravendb.NewDocumentStore(ravendb.NewConfig("http://localhost:8080", "Northwind"))
//	s, err := store.OpenSession()
//	defer s.Close()
//
// # Identity map and change tracking
//
// The session keeps at most one entity per document id. [Load] returns the
// same pointer for the same id for the lifetime of the session, and the
// session remembers the shape each document had when it was loaded or saved.
// [Session.SaveChanges] compares every tracked entity with that shape and
// sends only what changed, together with pending deletions and deferred
// commands, in one transactional batch.
//
// Entities are pointers to structs, or to string-keyed maps. The identity
// field is named ID by default and can be changed through
// [entity.Conventions].
//
// # Queries
//
// Queries are built with [github.com/ravendb/ravendb.go/pkg/query] and run
// with [QueryAll], [QueryFirst], [QueryCount] or [ExecuteQuery]. Full
// documents returned by a query join the identity map; projections do not.
//
// # Lazy operations
//
// [LazyLoad], [LazyQuery] and [LazyCount] register work that is sent in a
// single multi-get request the first time any of their values is needed.
//
// # Request budget
//
// A session refuses to issue more than [Config.MaxRequestsPerSession]
// requests, which surfaces chatty access patterns early. The error is a
// [*RequestBudgetExceededError].
package ravendb
