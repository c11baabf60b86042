package storage

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"storemy/pkg/primitives"
)

// VerifyPages fetches every page in ids against bm, pins it, runs check
// against it, and unpins it — all independently and concurrently via a
// bounded errgroup, so one slow fetch cannot stall the others. It is used
// by the recovery manager's Redo phase to sanity-check every dirty page
// whose concrete PageID it knows before the sequential log replay begins.
// It returns the first error; the other checks still run to completion.
func VerifyPages(bm BufferManager, ids []primitives.PageID, check func(Page) error) error {
	var g errgroup.Group
	g.SetLimit(8)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			page, err := bm.FetchPage(id)
			if err != nil {
				return fmt.Errorf("verify page %s: fetch: %w", id, err)
			}
			defer bm.UnpinPage(id)
			if err := check(page); err != nil {
				return fmt.Errorf("verify page %s: %w", id, err)
			}
			return nil
		})
	}

	return g.Wait()
}
