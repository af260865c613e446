package connection

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/ravendb/ravendb.go/pkg/constants"
)

// RemoteError is a non-success answer from the server.
type RemoteError struct {
	StatusCode int
	Type       string
	Message    string
	URL        string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s (%d %s): %s", e.URL, e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("%s (%d): %s", e.URL, e.StatusCode, msg)
}

// Concurrency reports whether the server rejected a change vector.
func (e *RemoteError) Concurrency() bool {
	return e.StatusCode == http.StatusConflict || strings.HasSuffix(e.Type, "ConcurrencyException")
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case constants.ErrRemote:
		return true
	case constants.ErrConcurrency:
		return e.Concurrency()
	}
	return false
}

// NewRemoteError builds a RemoteError from a response body. JSON bodies
// contribute their Type and Message; anything else becomes the message.
func NewRemoteError(status int, url string, body []byte) *RemoteError {
	e := &RemoteError{StatusCode: status, URL: url}
	typ, typErr := jsonparser.GetString(body, "Type")
	msg, msgErr := jsonparser.GetString(body, "Message")
	if typErr != nil && msgErr != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	e.Type = typ
	e.Message = msg
	return e
}
