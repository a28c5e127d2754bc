package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"HibiscusSOS/pkg/logger"
)

// Job 后台周期任务，由调度器按cron表达式驱动
type Job interface {
	Run(ctx context.Context)
}

// JobFunc 函数到Job的适配器
type JobFunc func(ctx context.Context)

func (f JobFunc) Run(ctx context.Context) { f(ctx) }

// Cron 后台任务调度器。任务panic会被捕获记录，不影响后续触发
type Cron struct {
	c *cron.Cron
}

func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.Local
	}
	return &Cron{c: cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))}
}

// Register 按cron表达式注册命名任务，执行耗时记入日志
func (cr *Cron) Register(name, expr string, job Job) error {
	_, err := cr.c.AddFunc(expr, func() {
		start := time.Now()
		job.Run(context.Background())
		logger.Debug("scheduled job finished",
			zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	})
	return err
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop 停止调度并等待在跑任务结束
func (cr *Cron) Stop() {
	<-cr.c.Stop().Done()
}
