package main

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/internal/fakeserver"
	"github.com/ravendb/ravendb.go/pkg/document"
)

func startServer(t *testing.T) *fakeserver.Server {
	t.Helper()
	server := fakeserver.NewServer("127.0.0.1:0", "db")
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func run(t *testing.T, server *fakeserver.Server, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--url", server.URL(), "--database", "db"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeRecords(t *testing.T, out string) []record {
	t.Helper()
	var records []record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	return records
}

func TestPutAndGet(t *testing.T) {
	server := startServer(t)

	_, err := run(t, server, "put", "users/1", `{"Name":"John","Age":21}`, "--collection", "Users")
	require.NoError(t, err)
	stored, ok := server.Get("db", "users/1")
	require.True(t, ok)
	assert.Equal(t, "John", stored["Name"])
	assert.Equal(t, "Users", stored.Metadata()["@collection"])

	out, err := run(t, server, "get", "users/1")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "users/1", records[0].ID)
	assert.Equal(t, "John", records[0].Document["Name"])
	assert.Equal(t, "Users", records[0].Metadata["@collection"])

	out, err = run(t, server, "--format", "text", "get", "users/1", "users/2")
	assert.ErrorIs(t, err, ravendb.ErrDocumentNotFound)
	assert.Contains(t, out, "users/1\t")
	assert.NotContains(t, out, "users/2")
}

func TestDelete(t *testing.T) {
	server := startServer(t)
	require.NoError(t, server.Put("db", "users/1", document.Document{"Name": "John"}))
	require.NoError(t, server.Put("db", "users/2", document.Document{"Name": "Jane"}))

	out, err := run(t, server, "delete", "users/1", "users/2")
	require.NoError(t, err)
	assert.Equal(t, "deleted users/1\ndeleted users/2\n", out)
	_, ok := server.Get("db", "users/1")
	assert.False(t, ok)
	assert.Equal(t, 1, server.RequestsTo("/bulk_docs"))
}

func TestQuery(t *testing.T) {
	server := startServer(t)
	for id, body := range map[string]document.Document{
		"users/1": {"Name": "John", "Age": 21},
		"users/2": {"Name": "Jane", "Age": 35},
		"users/3": {"Name": "Bob", "Age": 35},
	} {
		body["@metadata"] = document.Document{"@collection": "Users"}
		require.NoError(t, server.Put("db", id, body))
	}

	out, err := run(t, server, "query", "Users", "--where", "Age=35", "--order", "Name")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, "users/3", records[0].ID)
	assert.Equal(t, "users/2", records[1].ID)

	out, err = run(t, server, "query", "Users", "--count")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = run(t, server, "rql", "from Users where Age < $max", "--param", "max=30")
	require.NoError(t, err)
	records = decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "John", records[0].Document["Name"])

	_, err = run(t, server, "query", "Users", "--where", "Age")
	assert.Error(t, err)
}

func TestInvalidFlags(t *testing.T) {
	server := startServer(t)
	_, err := run(t, server, "--format", "yaml", "get", "users/1")
	assert.ErrorContains(t, err, "invalid format")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--url", "not a url", "--database", "db", "get", "users/1"})
	assert.ErrorIs(t, cmd.Execute(), ravendb.ErrInvalidConfig)
}
