package transitioner

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// nextScheduledTime computes the next fire time strictly after now for a
// rule's cron expression, the same way fleet's Schedule.GetCron parses a
// standard five-field cron string. A rule with no schedule always runs
// (returns nil); a malformed expression is logged and treated the same as
// no schedule, rather than wedging the rule permanently.
func nextScheduledTime(cronExpr string, now time.Time) *time.Time {
	if cronExpr == "" {
		return nil
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		logrus.WithError(err).WithField("cron", cronExpr).Warn("could not parse transition schedule, treating as unscheduled")
		return nil
	}
	next := schedule.Next(now)
	return &next
}
