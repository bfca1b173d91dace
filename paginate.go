package molsearch

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// IterateResults returns a lazy sequence over a ready job's hits.
//
// Pages are fetched strictly in order starting at 0 and never re-fetched. Emission stops
// once totalNeeded hits were produced, truncating mid-page if needed. Fetching stops when
// a page is empty or aligns fewer entries than the page size. The sequence can be ranged
// over once; a second range yields ErrIteratorReused.
func IterateResults(ctx context.Context, f PageFetcher, handle JobHandle, totalNeeded int, opts ...SearchOption) iter.Seq2[Hit, error] {
	pageSize := NewSearchConfig(opts...).PageSize
	var consumed atomic.Bool

	return func(yield func(Hit, error) bool) {
		if consumed.Swap(true) {
			yield(Hit{}, ErrIteratorReused)
			return
		}
		if totalNeeded <= 0 {
			return
		}

		emitted := 0
		for pageNum := 0; ; pageNum++ {
			if err := ctx.Err(); err != nil {
				yield(Hit{}, errors.WithSecondaryError(ErrCanceled, err))
				return
			}

			page, err := f.FetchPage(ctx, handle, pageNum, opts...)
			if err != nil {
				yield(Hit{}, errors.Wrapf(err, "fetch page %d of job %s", pageNum, handle))
				return
			}
			if page == nil || page.Entries == 0 {
				return
			}

			for _, h := range page.Hits {
				if !yield(h, nil) {
					return
				}
				emitted++
				if emitted >= totalNeeded {
					return
				}
			}

			if page.Entries < pageSize {
				return
			}
		}
	}
}

// CollectResults drains a result sequence. On error the hits gathered so far are discarded.
func CollectResults(seq iter.Seq2[Hit, error]) ([]Hit, error) {
	var hits []Hit
	for h, err := range seq {
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, nil
}
