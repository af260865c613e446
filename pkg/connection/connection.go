// Package connection defines the transport boundary between a session and
// the server. Sessions only ever talk to a Transport; the HTTP implementation
// lives in the http subpackage.
package connection

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/ravendb/ravendb.go/internal/codec"
)

// Transport executes one request against the server.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request describes a single server call. Path is relative to the database
// endpoint unless ServerLevel is set.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	ContentType string
	Body        func(io.Writer) error

	// AllowNotFound turns a 404 into a Response instead of a RemoteError.
	AllowNotFound bool
	ServerLevel   bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) NotFound() bool    { return r.StatusCode == http.StatusNotFound }
func (r *Response) NotModified() bool { return r.StatusCode == http.StatusNotModified }

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// JSONBody encodes v as the request body with the given marshaler.
func JSONBody(m codec.Marshaler, v any) func(io.Writer) error {
	return func(w io.Writer) error {
		data, err := m.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
}
