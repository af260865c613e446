package ravendb_test

import (
	"context"
	"fmt"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/internal/fakeserver"
	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/ravendb/ravendb.go/pkg/query"
)

// exampleStore starts a fake server and returns a store connected to it,
// with a function that stops both.
func exampleStore() (*ravendb.DocumentStore, func()) {
	server := fakeserver.NewServer("127.0.0.1:0", "Northwind")
	if err := server.Start(); err != nil {
		panic(err)
	}
	store, err := ravendb.NewDocumentStore(
		ravendb.NewConfig(server.URL(), "Northwind"),
		ravendb.WithLogger(logger.Nop()),
	)
	if err != nil {
		panic(err)
	}
	return store, func() {
		store.Close()
		_ = server.Stop()
	}
}

func ExampleSession_SaveChanges() {
	store, stop := exampleStore()
	defer stop()
	ctx := context.Background()

	s, err := store.OpenSession()
	if err != nil {
		panic(err)
	}
	defer s.Close()

	if err := s.StoreWithID(&User{Name: "John", Age: 21}, "users/1"); err != nil {
		panic(err)
	}
	if err := s.SaveChanges(ctx); err != nil {
		panic(err)
	}

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	if err != nil {
		panic(err)
	}
	u.Age++

	changes, err := s.WhatChanged()
	if err != nil {
		panic(err)
	}
	for _, c := range changes["users/1"] {
		fmt.Printf("%s: %v -> %v\n", c.FieldName, c.OldValue, c.NewValue)
	}

	if err := s.SaveChanges(ctx); err != nil {
		panic(err)
	}
	fmt.Println("requests:", s.NumberOfRequests())

	// Output:
	// Age: 21 -> 22
	// requests: 2
}

func ExampleLoad_includes() {
	store, stop := exampleStore()
	defer stop()
	ctx := context.Background()

	setupSession, err := store.OpenSession()
	if err != nil {
		panic(err)
	}
	if err := setupSession.StoreWithID(&Company{Name: "Acme"}, "companies/1"); err != nil {
		panic(err)
	}
	if err := setupSession.StoreWithID(&User{Name: "John", CompanyID: "companies/1"}, "users/1"); err != nil {
		panic(err)
	}
	if err := setupSession.SaveChanges(ctx); err != nil {
		panic(err)
	}
	setupSession.Close()

	s, err := store.OpenSession()
	if err != nil {
		panic(err)
	}
	defer s.Close()

	u, err := ravendb.Load[*User](ctx, s, "users/1", ravendb.WithIncludes("CompanyID"))
	if err != nil {
		panic(err)
	}
	c, err := ravendb.Load[*Company](ctx, s, u.CompanyID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s works at %s\n", u.Name, c.Name)
	fmt.Println("requests:", s.NumberOfRequests())

	// Output:
	// John works at Acme
	// requests: 1
}

func ExampleQueryAll() {
	store, stop := exampleStore()
	defer stop()
	ctx := context.Background()

	s, err := store.OpenSession()
	if err != nil {
		panic(err)
	}
	defer s.Close()

	for i, name := range []string{"John", "Jane", "Bob"} {
		if err := s.Store(&User{Name: name, Age: 20 + 10*i}); err != nil {
			panic(err)
		}
	}
	if err := s.SaveChanges(ctx); err != nil {
		panic(err)
	}

	users, err := ravendb.QueryAll[*User](ctx, s,
		query.ForCollection("Users").WhereGreaterThanOrEqual("Age", 30).OrderBy("Name"))
	if err != nil {
		panic(err)
	}
	for _, u := range users {
		fmt.Println(u.Name, u.Age)
	}

	// Output:
	// Bob 40
	// Jane 30
}

func ExampleLazyLoad() {
	store, stop := exampleStore()
	defer stop()
	ctx := context.Background()

	s, err := store.OpenSession()
	if err != nil {
		panic(err)
	}
	defer s.Close()
	if err := s.StoreWithID(&User{Name: "John"}, "users/1"); err != nil {
		panic(err)
	}
	if err := s.SaveChanges(ctx); err != nil {
		panic(err)
	}
	s.Clear()

	john := ravendb.LazyLoad[*User](s, "users/1")
	count := ravendb.LazyCount(s, query.ForCollection("Users"))

	u, err := john.Value(ctx)
	if err != nil {
		panic(err)
	}
	n, err := count.Value(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println(u.Name, n)
	fmt.Println("requests:", s.NumberOfRequests())

	// Output:
	// John 1
	// requests: 2
}
