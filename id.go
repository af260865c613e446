package ravendb

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"

	"github.com/ravendb/ravendb.go/pkg/constants"
)

// IDGenerator produces ids for entities stored without one.
type IDGenerator interface {
	GenerateID(collection string, entity any) (string, error)
}

type IDGeneratorFunc func(collection string, entity any) (string, error)

func (f IDGeneratorFunc) GenerateID(collection string, entity any) (string, error) {
	return f(collection, entity)
}

// UUIDGenerator builds ids of the form "users/<uuid v4>". Documents of the
// empty collection get a bare uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) GenerateID(collection string, _ any) (string, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	if collection == "" || collection == constants.EmptyCollection {
		return u.String(), nil
	}
	return strings.ToLower(collection) + constants.IdentityPartsSeparator + u.String(), nil
}

// ServerSideIDs returns an IDGenerator that leaves the choice to the server:
// the id is the collection prefix followed by a separator, and the server
// completes it on save.
func ServerSideIDs() IDGenerator {
	return IDGeneratorFunc(func(collection string, _ any) (string, error) {
		if collection == "" || collection == constants.EmptyCollection {
			return "", fmt.Errorf("%w: server side ids need a collection", constants.ErrBlankID)
		}
		return strings.ToLower(collection) + constants.IdentityPartsSeparator, nil
	})
}

// isServerSideID reports ids the server completes on save.
func isServerSideID(id string) bool {
	return strings.HasSuffix(id, constants.IdentityPartsSeparator)
}
