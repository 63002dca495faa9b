// Package fetcher downloads remote catalog documents so they can be ingested
// the same way as uploads.
package fetcher

import (
	"context"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Fetcher retrieves documents by URL.
type Fetcher interface {
	// Fetch downloads one document. The returned file carries a name
	// derived from the response and its content type.
	Fetch(ctx context.Context, rawURL string) (model.IngestFile, error)

	// FetchAll downloads every URL, failing as a whole if any download
	// fails. Order follows urls.
	FetchAll(ctx context.Context, urls []string) ([]model.IngestFile, error)
}
