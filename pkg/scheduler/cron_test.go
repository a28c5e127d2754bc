package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronRunsRegisteredJob(t *testing.T) {
	cr := NewCron(nil)
	var runs int32
	require.NoError(t, cr.Register("tick", "@every 10ms", JobFunc(func(context.Context) {
		atomic.AddInt32(&runs, 1)
	})))

	cr.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 },
		time.Second, 10*time.Millisecond)
	cr.Stop()
}

func TestCronRejectsBadExpression(t *testing.T) {
	cr := NewCron(nil)
	err := cr.Register("bad", "definitely not cron", JobFunc(func(context.Context) {}))
	assert.Error(t, err)
}
