package cost

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultReportSchedule runs the cost report once a day at midnight UTC.
const DefaultReportSchedule = "@daily"

// Reporter periodically logs the cost summary and monthly projection.
type Reporter struct {
	tracker  *Tracker
	logger   *zap.Logger
	cron     *cron.Cron
	schedule string
}

// NewReporter creates a reporter for tracker on a cron schedule. An empty
// schedule selects DefaultReportSchedule.
func NewReporter(tracker *Tracker, schedule string, logger *zap.Logger) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reporter{
		tracker:  tracker,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid cost report schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins running the schedule in the background.
func (r *Reporter) Start() {
	r.cron.Start()
	r.logger.Info("Cost reporter started", zap.String("schedule", r.schedule))
}

// Stop halts the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Cost reporter stopped")
}

// Report logs one line per provider with its current costs.
func (r *Reporter) Report() {
	summary := r.tracker.Summary()
	projected := r.tracker.ProjectedMonthlyCost()

	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	for _, name := range names {
		pc := summary[name]
		total += pc.Total
		r.logger.Info("Provider cost",
			zap.String("provider", name),
			zap.Float64("today", pc.Today),
			zap.Float64("this_month", pc.ThisMonth),
			zap.Float64("total", pc.Total),
			zap.Float64("projected_month", projected[name]),
			zap.Int64("tokens", pc.Tokens),
		)
	}
	r.logger.Info("Cost report", zap.Int("providers", len(names)), zap.Float64("total", total))
}
