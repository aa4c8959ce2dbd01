// Package pagination fetches every page of a paginated World Bank response.
//
// The API reports the page count in the metadata element of each envelope.
// The batch fetcher reads page 1 to learn the total, then fetches the
// remaining pages through a bounded worker pool.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(source, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx)
//
// The batch fetcher:
//   - Fetches the first page to determine total pages
//   - Refuses responses announcing more than MaxPages pages
//   - Returns page bodies ordered by page number
//   - Fails the whole call when any page fails (no partial data)
package pagination
