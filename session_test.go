package ravendb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/pkg/commands"
	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

func TestStoreAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, store, s := setup(t)

	u := &User{ID: "users/1", Name: "John", Age: 21, Address: &Address{City: "Hadera"}}
	require.NoError(t, s.Store(u))
	require.NoError(t, s.SaveChanges(ctx))

	stored, ok := server.Get(testDatabase, "users/1")
	require.True(t, ok)
	assert.Equal(t, "John", stored["Name"])
	assert.Equal(t, "Users", stored.Metadata().String(constants.MetadataCollection))

	cv, err := s.GetChangeVectorFor(u)
	require.NoError(t, err)
	assert.Equal(t, stored.Metadata().String(constants.MetadataChangeVector), cv)

	other := openSession(t, store)
	loaded, err := ravendb.Load[*User](ctx, other, "users/1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, u, loaded)
}

func TestLoadReturnsTrackedInstance(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	first, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	second, err := ravendb.Load[*User](ctx, s, "USERS/1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, server.RequestsTo("/docs"))
	assert.Equal(t, 1, s.NumberOfRequests())
}

func TestStoreRejectsSecondEntityForSameID(t *testing.T) {
	_, _, s := setup(t)

	require.NoError(t, s.Store(&User{ID: "users/1", Name: "a"}))
	err := s.Store(&User{ID: "users/1", Name: "b"})

	var nonUnique *ravendb.NonUniqueAssociationError
	require.ErrorAs(t, err, &nonUnique)
	assert.Equal(t, "users/1", nonUnique.ID)
	assert.ErrorIs(t, err, ravendb.ErrNonUniqueObject)
}

func TestStoreIsIdempotentForTrackedEntity(t *testing.T) {
	_, _, s := setup(t)

	u := &User{Name: "John"}
	require.NoError(t, s.Store(u))
	id := u.ID
	require.NotEmpty(t, id)
	assert.Regexp(t, `^users/[0-9a-f-]{36}$`, id)

	require.NoError(t, s.Store(u))
	assert.Equal(t, id, u.ID)
	assert.Equal(t, id, s.GetDocumentID(u))
}

func TestStoreValidation(t *testing.T) {
	_, _, s := setup(t)

	assert.ErrorIs(t, s.Store(User{Name: "by value"}), ravendb.ErrInvalidEntity)
	assert.ErrorIs(t, s.Store(nil), ravendb.ErrInvalidEntity)
	assert.ErrorIs(t, s.StoreWithID(&User{}, ""), ravendb.ErrBlankID)
}

func TestSaveChangesSkipsUnchangedEntities(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 0, server.RequestsTo("/bulk_docs"))

	u.Address = &Address{City: "Tel Aviv"}
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 1, server.RequestsTo("/bulk_docs"))

	u.Address.City = "Haifa"
	changed, err := s.HasChanged(u)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 2, server.RequestsTo("/bulk_docs"))

	stored, _ := server.Get(testDatabase, "users/1")
	assert.EqualValues(t, map[string]any{"City": "Haifa"}, stored["Address"])

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 2, server.RequestsTo("/bulk_docs"))
}

func TestLoadedDocumentKeepsItsCollection(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seed(t, server, "people/1", "People", document.Document{"Name": "A", "Age": 1})

	u, err := ravendb.Load[*User](ctx, s, "people/1")
	require.NoError(t, err)

	for range 2 {
		batch, err := s.PrepareForSaveChanges()
		require.NoError(t, err)
		assert.True(t, batch.Empty())
	}

	u.Name = "B"
	batch, err := s.PrepareForSaveChanges()
	require.NoError(t, err)
	require.Len(t, batch.Commands, 1)
	put, ok := batch.Commands[0].(commands.Put)
	require.True(t, ok)
	assert.Equal(t, "People", put.Document().Metadata().String(constants.MetadataCollection))

	require.NoError(t, s.SaveChanges(ctx))
	stored, _ := server.Get(testDatabase, "people/1")
	assert.Equal(t, "B", stored["Name"])
	assert.Equal(t, "People", stored.Metadata().String(constants.MetadataCollection))
}

func TestSaveChangesWithNothingToSaveSendsNothing(t *testing.T) {
	calls := 0
	transport := connection.TransportFunc(func(context.Context, *connection.Request) (*connection.Response, error) {
		calls++
		return nil, errors.New("unexpected request")
	})
	store, err := ravendb.NewDocumentStore(ravendb.NewConfig("http://127.0.0.1:1", testDatabase),
		ravendb.WithTransport(transport))
	require.NoError(t, err)
	defer store.Close()

	s, err := store.OpenSession()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveChanges(context.Background()))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, s.NumberOfRequests())
}

func TestBatchOrdersDeferredThenPutsThenDeletes(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/a", "A", 1)
	seedUser(t, server, "users/c", "C", 3)
	seedUser(t, server, "users/d", "D", 4)

	loaded, err := ravendb.LoadMany[*User](ctx, s, []string{"users/a", "users/c"})
	require.NoError(t, err)

	require.NoError(t, s.Store(&User{ID: "users/b", Name: "B", Age: 2}))
	loaded["users/a"].Age = 10
	require.NoError(t, s.Delete(loaded["users/c"]))
	require.NoError(t, s.Patch("users/d", "Age", 40))

	batch, err := s.PrepareForSaveChanges()
	require.NoError(t, err)
	require.Len(t, batch.Commands, 4)

	var kinds []commands.Kind
	var ids []string
	for _, c := range batch.Commands {
		kinds = append(kinds, c.Kind())
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []commands.Kind{commands.KindPatch, commands.KindPut, commands.KindPut, commands.KindDelete}, kinds)
	assert.Equal(t, []string{"users/d", "users/a", "users/b", "users/c"}, ids)

	require.NoError(t, s.SaveChanges(ctx))
	_, exists := server.Get(testDatabase, "users/c")
	assert.False(t, exists)
	d, _ := server.Get(testDatabase, "users/d")
	assert.Equal(t, float64(40), d["Age"])
	assert.Empty(t, s.DeferredCommands())
}

func TestRequestBudget(t *testing.T) {
	ctx := context.Background()
	_, _, s := setup(t, ravendb.WithMaxRequests(2))

	_, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	_, err = ravendb.Load[*User](ctx, s, "users/2")
	require.NoError(t, err)

	_, err = ravendb.Load[*User](ctx, s, "users/3")
	var budget *ravendb.RequestBudgetExceededError
	require.ErrorAs(t, err, &budget)
	assert.Equal(t, 3, budget.Count)
	assert.Equal(t, 2, budget.Max)
	assert.ErrorIs(t, err, ravendb.ErrRequestBudgetExceeded)
	assert.Contains(t, err.Error(), "LoadMany")

	// known missing ids cost nothing
	_, err = ravendb.Load[*User](ctx, s, "users/1")
	assert.NoError(t, err)
}

func TestDeleteByIDWithPendingChangesIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	u.Name = "Jane"

	err = s.DeleteByID("users/1", nil)
	var ambiguous *ravendb.AmbiguousDeleteError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "users/1", ambiguous.ID)

	u.Name = "John"
	require.NoError(t, s.DeleteByID("users/1", nil))
	assert.Empty(t, s.GetDocumentID(u))
	require.NoError(t, s.SaveChanges(ctx))

	_, exists := server.Get(testDatabase, "users/1")
	assert.False(t, exists)

	again, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, 1, server.RequestsTo("/docs"))
}

func TestDeleteRequiresTrackedEntity(t *testing.T) {
	_, _, s := setup(t)
	assert.ErrorIs(t, s.Delete(&User{ID: "users/1"}), ravendb.ErrEntityNotTracked)
}

func TestDeletedEntityCannotBeStoredAgain(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(u))
	assert.ErrorIs(t, s.Store(u), ravendb.ErrEntityDeleted)

	exists, err := s.Exists(ctx, "users/1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreReplacesPendingDeletion(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(u))
	require.NoError(t, s.Store(&User{ID: "users/1", Name: "Replacement"}))

	batch, err := s.PrepareForSaveChanges()
	require.NoError(t, err)
	require.Len(t, batch.Commands, 1)
	assert.Equal(t, commands.KindPut, batch.Commands[0].Kind())

	require.NoError(t, s.SaveChanges(ctx))
	stored, _ := server.Get(testDatabase, "users/1")
	assert.Equal(t, "Replacement", stored["Name"])
}

func TestDeferredPatchConflictsWithChangedEntity(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	require.NoError(t, s.Patch("users/1", "Age", 30))
	u.Name = "Jane"

	err = s.SaveChanges(ctx)
	var conflict *ravendb.ConflictingDeferredCommandError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, commands.KindPut, conflict.Kind)
	assert.Equal(t, commands.KindPatch, conflict.Conflict)
	assert.Equal(t, 0, server.RequestsTo("/bulk_docs"))

	// the session is unchanged and can be fixed
	u.Name = "John"
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 30, u.Age)
}

func TestDeferRejectsConflictingCommands(t *testing.T) {
	_, _, s := setup(t)

	del, err := commands.NewDelete("users/1", nil)
	require.NoError(t, err)
	put, err := commands.NewPut("users/1", document.Document{"Name": "x"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Defer(put))
	err = s.Defer(del)
	assert.ErrorIs(t, err, ravendb.ErrConflictingDeferredCommand)

	require.NoError(t, s.Patch("users/2", "Age", 1))
	require.NoError(t, s.Increment("users/2", "Age", 1))
	assert.Len(t, s.DeferredCommands(), 2)
}

func TestOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	server, store, s := setup(t, ravendb.WithOptimisticConcurrency(true))
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)

	other := openSession(t, store)
	theirs, err := ravendb.Load[*User](ctx, other, "users/1")
	require.NoError(t, err)
	theirs.Age = 99
	require.NoError(t, other.SaveChanges(ctx))

	u.Age = 22
	err = s.SaveChanges(ctx)
	assert.ErrorIs(t, err, ravendb.ErrConcurrency)
	var remote *ravendb.RemoteError
	require.ErrorAs(t, err, &remote)

	s.Evict(u)
	require.NoError(t, s.StoreWithChangeVector(&User{Name: "new"}, "users/2", ""))
	require.NoError(t, s.SaveChanges(ctx))
	_, exists := server.Get(testDatabase, "users/2")
	assert.True(t, exists)
}

func TestEvictAndClear(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t)
	seedUser(t, server, "users/1", "John", 21)

	u, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	s.Evict(u)
	assert.False(t, s.IsLoaded("users/1"))

	reloaded, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	assert.NotSame(t, u, reloaded)
	assert.Equal(t, 2, server.RequestsTo("/docs"))

	reloaded.Age = 50
	s.Clear()
	has, err := s.HasChanges()
	require.NoError(t, err)
	assert.False(t, has)
}

func TestClosedSessionRefusesWork(t *testing.T) {
	_, _, s := setup(t)
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Store(&User{ID: "users/1"}), ravendb.ErrSessionClosed)
	assert.ErrorIs(t, s.SaveChanges(context.Background()), ravendb.ErrSessionClosed)
	_, err := ravendb.Load[*User](context.Background(), s, "users/1")
	assert.ErrorIs(t, err, ravendb.ErrSessionClosed)
}

func TestNoTrackingSession(t *testing.T) {
	ctx := context.Background()
	server, _, s := setup(t, ravendb.WithNoTracking())
	seedUser(t, server, "users/1", "John", 21)

	first, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	second, err := ravendb.Load[*User](ctx, s, "users/1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
	assert.Error(t, s.Store(&User{ID: "users/2"}))
}

func TestServerSideIDs(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	store := newStore(t, server, ravendb.WithIDGenerator(ravendb.ServerSideIDs()))
	s := openSession(t, store)

	u := &User{Name: "John"}
	require.NoError(t, s.Store(u))
	assert.Equal(t, "users/", u.ID)
	other := &User{Name: "Jane"}
	require.NoError(t, s.Store(other))
	require.NoError(t, s.SaveChanges(ctx))

	assert.Regexp(t, `^users/\d+-A$`, u.ID)
	assert.Regexp(t, `^users/\d+-A$`, other.ID)
	assert.NotEqual(t, u.ID, other.ID)
	assert.Equal(t, u.ID, s.GetDocumentID(u))
	loaded, err := ravendb.Load[*User](ctx, s, u.ID)
	require.NoError(t, err)
	assert.Same(t, u, loaded)
	_, exists := server.Get(testDatabase, u.ID)
	assert.True(t, exists)
}
