package worker

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/arbot/internal/compare"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/queue"
)

// NewCompareHandler returns the COMPARE worker: it runs the detector for the
// job's currency pair and hands back whatever downstream specs it produced.
func NewCompareHandler(det *compare.Detector) queue.WorkerFunc {
	return func(ctx context.Context, job domain.Job) (domain.JobResult, error) {
		pair := domain.TradePair{
			Base:  job.Args["curr_x"],
			Quote: job.Args["curr_y"],
		}

		result, err := det.Compare(ctx, pair, job.QueueID)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: compare %s: %w", pair.Symbol(), err)
		}
		return domain.JobResult{DownstreamJobs: result.Jobs}, nil
	}
}
