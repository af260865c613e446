package ravendb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/internal/fakeserver"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
	"github.com/ravendb/ravendb.go/pkg/logger"
)

const testDatabase = "db"

type Address struct {
	City    string `json:"City,omitempty"`
	Country string `json:"Country,omitempty"`
}

type User struct {
	ID        string
	Name      string
	Age       int
	Tags      []string `json:"Tags,omitempty"`
	Address   *Address `json:"Address,omitempty"`
	CompanyID string   `json:"CompanyID,omitempty"`
}

type Company struct {
	ID   string
	Name string
}

// startServer runs a fake server with one database on a random port.
func startServer(t *testing.T) *fakeserver.Server {
	t.Helper()
	server := fakeserver.NewServer("127.0.0.1:0", testDatabase)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop server: %v", err)
		}
	})
	return server
}

func newStore(t *testing.T, server *fakeserver.Server, opts ...ravendb.StoreOption) *ravendb.DocumentStore {
	t.Helper()
	cfg := ravendb.NewConfig(server.URL(), testDatabase)
	opts = append([]ravendb.StoreOption{ravendb.WithLogger(logger.Nop())}, opts...)
	store, err := ravendb.NewDocumentStore(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func openSession(t *testing.T, store *ravendb.DocumentStore, opts ...ravendb.SessionOption) *ravendb.Session {
	t.Helper()
	s, err := store.OpenSession(opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// setup starts a server, a store and a session against it.
func setup(t *testing.T, opts ...ravendb.SessionOption) (*fakeserver.Server, *ravendb.DocumentStore, *ravendb.Session) {
	t.Helper()
	server := startServer(t)
	store := newStore(t, server)
	return server, store, openSession(t, store, opts...)
}

func seed(t *testing.T, server *fakeserver.Server, id, collection string, body document.Document) {
	t.Helper()
	doc := document.Clone(body)
	doc[constants.MetadataKey] = document.Document{constants.MetadataCollection: collection}
	require.NoError(t, server.Put(testDatabase, id, doc))
}

func seedUser(t *testing.T, server *fakeserver.Server, id, name string, age int) {
	t.Helper()
	seed(t, server, id, "Users", document.Document{"Name": name, "Age": age})
}
