package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
	"github.com/alanyoungcy/arbot/internal/queue"
)

// NewWithdrawalFeeHandler returns the WITHDRAWAL_FEE worker: it fetches the
// realized transaction fee of a past withdrawal from the master exchange and
// writes it onto the audit event created when the withdrawal was submitted.
func NewWithdrawalFeeHandler(master exchange.Withdrawer, audit domain.AuditStore, logger *slog.Logger) queue.WorkerFunc {
	log := logger.With(slog.String("component", "withdrawal_fee_worker"))

	return func(ctx context.Context, job domain.Job) (domain.JobResult, error) {
		if job.Args["exchange"] != master.Name() {
			return domain.JobResult{}, fmt.Errorf(
				"worker: withdrawal fee: %q is not the master exchange", job.Args["exchange"])
		}

		fee, err := master.WithdrawalFee(ctx, job.Args["currency"], job.Args["withdrawal_id"])
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: withdrawal fee: %w", err)
		}

		if err := audit.UpdateWithdrawalFee(ctx, job.Args["audit_id"], fee); err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: withdrawal fee: %w", err)
		}

		log.Info("withdrawal fee recorded",
			slog.String("withdrawal_id", job.Args["withdrawal_id"]),
			slog.String("currency", job.Args["currency"]),
			slog.String("fee", fee.String()))

		return domain.JobResult{}, nil
	}
}
