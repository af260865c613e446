package ravendb

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravendb/ravendb.go/pkg/constants"
)

var uuidPattern = `[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}`

func TestUUIDGenerator(t *testing.T) {
	id, err := UUIDGenerator{}.GenerateID("Users", nil)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^users/`+uuidPattern+`$`), id)

	other, err := UUIDGenerator{}.GenerateID("Users", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	bare, err := UUIDGenerator{}.GenerateID(constants.EmptyCollection, nil)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^`+uuidPattern+`$`), bare)
}

func TestServerSideIDs(t *testing.T) {
	id, err := ServerSideIDs().GenerateID("Orders", nil)
	require.NoError(t, err)
	assert.Equal(t, "orders/", id)
	assert.True(t, isServerSideID(id))
	assert.False(t, isServerSideID("orders/1"))

	_, err = ServerSideIDs().GenerateID("", nil)
	assert.ErrorIs(t, err, constants.ErrBlankID)
}
