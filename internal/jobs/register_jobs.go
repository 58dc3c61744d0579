package jobs

import (
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/queue"
)

// RegisterAllJobHandlers registers all job handlers with the processor
func RegisterAllJobHandlers(p *queue.JobProcessor, runner PeriodRunner, log logrus.FieldLogger) {
	p.RegisterHandler(queue.QueueBonusRun, NewBonusRunJob(runner, log).Handle)
}
