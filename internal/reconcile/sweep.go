package reconcile

import (
	"context"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"time"
)

// Sweeper re-drives pending reservations that already carry a provider
// payment id, covering webhooks the provider gave up on. Reservations that
// never saw a payment are left alone; they need an id from the admin.
type Sweeper struct {
	Engine    *Engine
	OlderThan time.Duration
	Limit     int
	Log       *logrus.Entry
}

type SweepReport struct {
	Scanned  int
	Redriven int
	Failed   int
}

func (s *Sweeper) logger() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return s.Engine.logger()
}

func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	stale, err := s.Engine.Store.ListStalePending(ctx, s.Engine.now().Add(-s.OlderThan), s.Limit)
	if err != nil {
		return rep, err
	}
	log := s.logger()
	for _, res := range stale {
		rep.Scanned++
		if res.PaymentProviderID == "" {
			continue
		}
		rep.Redriven++
		if _, err := s.Engine.Reconcile(ctx, res.PaymentProviderID); err != nil && !Recorded(err) {
			rep.Failed++
			log.WithError(err).WithField("external_reference", res.ExternalReference).Warn("sweep re-drive failed")
		}
	}
	return rep, nil
}

// Schedule registers the sweep on c using a cron spec such as "@every 5m".
// Overlapping runs are skipped.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		rep, err := s.Run(ctx)
		if err != nil {
			s.logger().WithError(err).Error("pending sweep failed")
			return
		}
		if rep.Redriven > 0 {
			s.logger().WithFields(logrus.Fields{
				"scanned": rep.Scanned, "redriven": rep.Redriven, "failed": rep.Failed,
			}).Info("pending sweep done")
		}
	})
	return c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}
