package birdreport

import (
	"context"

	"github.com/CKRainbow/commonBird/internal/errors"
)

// SearchPageFunc fetches one page of reports. Pages are numbered from 1.
type SearchPageFunc func(ctx context.Context, page, limit int) ([]Report, error)

// maxPageRetries bounds consecutive failures of the same page before the
// whole fetch is abandoned. Only retryable failures (server, transport) are
// retried; authentication and malformed-response failures abort immediately.
const maxPageRetries = 3

// FetchAllPages walks a paginated search until exhaustion: an empty page or a
// page shorter than the limit ends the walk. A failed page is retried in
// place; consecutive failures beyond the retry bound abort the fetch so a
// dead upstream cannot loop forever.
func FetchAllPages(ctx context.Context, fetch SearchPageFunc, limit int) ([]Report, error) {
	var all []Report
	failures := 0

	for page := 1; ; {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryNetwork).
				Context("page", page).
				Build()
		}

		reports, err := fetch(ctx, page, limit)
		if err != nil {
			if !errors.IsRetryable(err) {
				return nil, err
			}
			failures++
			logger.Warn("page fetch failed",
				"page", page,
				"consecutive_failures", failures,
				"error", err.Error())
			if failures >= maxPageRetries {
				return nil, errors.Newf("page %d failed %d times: %w", page, failures, err).
					Category(errors.CategoryServer).
					Context("page", page).
					Context("failures", failures).
					Build()
			}
			continue
		}
		failures = 0

		all = append(all, reports...)
		if len(reports) == 0 || len(reports) < limit {
			break
		}
		page++
	}

	return all, nil
}
