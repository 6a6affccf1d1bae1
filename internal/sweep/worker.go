package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// Interval between pending-payment expiry sweeps.
const Interval = 5 * time.Minute

type ExpirePaymentsArgs struct{}

func (ExpirePaymentsArgs) Kind() string { return "expire_pending_payments" }

// PaymentExpirer is implemented by the wallet service.
type PaymentExpirer interface {
	ExpirePendingPayments(ctx context.Context, now time.Time) (int64, error)
}

// ExpirePaymentsWorker runs the periodic sweep that marks stale pending
// payments expired. It never touches balances.
type ExpirePaymentsWorker struct {
	river.WorkerDefaults[ExpirePaymentsArgs]
	wallet PaymentExpirer
	log    *slog.Logger
}

func NewExpirePaymentsWorker(wallet PaymentExpirer, log *slog.Logger) *ExpirePaymentsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpirePaymentsWorker{wallet: wallet, log: log}
}

func (w *ExpirePaymentsWorker) Work(ctx context.Context, _ *river.Job[ExpirePaymentsArgs]) error {
	n, err := w.wallet.ExpirePendingPayments(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("pending payment sweep", "expired", n)
	}
	return nil
}

// PeriodicJob returns the river periodic-job definition for the sweep.
func PeriodicJob() *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(Interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ExpirePaymentsArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
