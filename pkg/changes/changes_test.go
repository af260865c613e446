package changes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type command struct {
	CommandId int
	Command   string
	Param     string
}

// changesServer confirms every command and, for watch commands, answers
// with a batch of changes in the array form the server uses.
type changesServer struct {
	*httptest.Server

	mu       sync.Mutex
	commands []command
	confirm  bool
}

func newChangesServer(t *testing.T, confirm bool) *changesServer {
	s := &changesServer{confirm: confirm}
	upgrader := gorilla.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/databases/northwind/changes", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()
			if !s.confirm {
				continue
			}
			msgs := []map[string]any{{"Type": "Confirm", "CommandId": cmd.CommandId}}
			if cmd.Command == "watch-doc" || cmd.Command == "watch-collection" {
				msgs = append(msgs,
					docChange("Put", "users/2", "Users"),
					docChange("Put", "Users/1", "Users"),
					docChange("Delete", "companies/1", "Companies"),
				)
			}
			if err := conn.WriteJSON(msgs); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *changesServer) received() []command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command(nil), s.commands...)
}

func docChange(typ, id, collection string) map[string]any {
	return map[string]any{
		"Type": "DocumentChange",
		"Value": map[string]any{
			"Type":           typ,
			"Id":             id,
			"CollectionName": collection,
			"ChangeVector":   "A:1-abc",
		},
	}
}

func receive(t *testing.T, sub *Subscription) DocumentChange {
	t.Helper()
	select {
	case ch, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ch
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}
	return DocumentChange{}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/databases/db/changes", EndpointURL("http://localhost:8080/", "db"))
	assert.Equal(t, "wss://a.raven.test/databases/db/changes", EndpointURL("https://a.raven.test", "db"))
	assert.Equal(t, "ws://x/databases/db/changes", EndpointURL("ws://x", "db"))
}

func TestForDocument(t *testing.T) {
	srv := newChangesServer(t, true)
	ctx := context.Background()

	client, err := Dial(ctx, srv.URL, "northwind")
	require.NoError(t, err)
	defer client.Close(ctx)

	sub, err := client.ForDocument(ctx, "users/1")
	require.NoError(t, err)

	change := receive(t, sub)
	assert.Equal(t, DocumentPut, change.Type)
	assert.Equal(t, "Users/1", change.ID)
	assert.Equal(t, "Users", change.Collection)
	assert.Equal(t, "A:1-abc", change.ChangeVector)

	require.NoError(t, sub.Close(ctx))
	assert.ErrorIs(t, sub.Close(ctx), ErrSubscriptionDone)

	cmds := srv.received()
	require.Len(t, cmds, 2)
	assert.Equal(t, command{CommandId: 1, Command: "watch-doc", Param: "users/1"}, cmds[0])
	assert.Equal(t, command{CommandId: 2, Command: "unwatch-doc", Param: "users/1"}, cmds[1])
}

func TestForDocumentsInCollection(t *testing.T) {
	srv := newChangesServer(t, true)
	ctx := context.Background()

	client, err := Dial(ctx, srv.URL, "northwind")
	require.NoError(t, err)
	defer client.Close(ctx)

	sub, err := client.ForDocumentsInCollection(ctx, "companies")
	require.NoError(t, err)

	change := receive(t, sub)
	assert.Equal(t, DocumentDelete, change.Type)
	assert.Equal(t, "companies/1", change.ID)
}

func TestConfirmTimeout(t *testing.T) {
	srv := newChangesServer(t, false)
	ctx := context.Background()

	client, err := Dial(ctx, srv.URL, "northwind", WithConfirmTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer client.Close(ctx)

	_, err = client.ForAllDocuments(ctx)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	srv := newChangesServer(t, true)
	ctx := context.Background()

	client, err := Dial(ctx, srv.URL, "northwind")
	require.NoError(t, err)

	sub, err := client.ForDocumentsStartingWith(ctx, "orders/")
	require.NoError(t, err)

	require.NoError(t, client.Close(ctx))
	_, open := <-sub.C
	assert.False(t, open)

	_, err = client.ForAllDocuments(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, client.Close(ctx))
}

func TestDialValidation(t *testing.T) {
	_, err := Dial(context.Background(), "", "db")
	assert.Error(t, err)
	_, err = Dial(context.Background(), "http://localhost", "")
	assert.Error(t, err)
}

func TestDocumentChangeTypeString(t *testing.T) {
	assert.Equal(t, "Put", DocumentPut.String())
	assert.Equal(t, "Conflict", DocumentConflict.String())
	assert.Equal(t, "None", DocumentChangeType(0).String())
	assert.Equal(t, DocumentCommon, parseDocumentChangeType("Common"))
}
