package constants

import "time"

// Metadata keys carried in the "@metadata" block of every document.
const (
	MetadataKey          = "@metadata"
	MetadataID           = "@id"
	MetadataCollection   = "@collection"
	MetadataChangeVector = "@change-vector"
	MetadataLastModified = "@last-modified"
	MetadataFlags        = "@flags"
	MetadataProjection   = "@projection"
	MetadataAttachments  = "@attachments"
	MetadataCounters     = "@counters"
	MetadataGoType       = "Raven-Go-Type"

	// EmptyCollection is the collection of documents without a typed entity behind them.
	EmptyCollection = "@empty"
)

const (
	DefaultMaxRequestsPerSession = 30
	DefaultHTTPTimeout           = 30 * time.Second
	DefaultLazyRetryInterval     = 100 * time.Millisecond
	DefaultIdentityProperty      = "ID"
	IdentityPartsSeparator       = "/"
)

var (
	HTTPScheme       = "http"
	HTTPSecureScheme = "https"
)
