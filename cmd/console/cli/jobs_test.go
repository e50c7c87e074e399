package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/flockadmin/console/jobs"
	_ "github.com/flockadmin/console/testing"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }
func (s stubInspector) Close() error                                 { return nil }

func TestTriggerKnownJobs(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := NewJobsCLIWith(enq, nil)

	info, err := c.Trigger(context.Background(), JobSeedRBAC)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskRBACSeedDefaults, info.Type)

	_, err = c.Trigger(context.Background(), jobs.TaskRBACInvalidateAll)
	require.NoError(t, err)

	require.Len(t, enq.tasks, 2)
	require.Equal(t, jobs.TaskRBACInvalidateAll, enq.tasks[1].Type())
}

func TestTriggerUnknownJob(t *testing.T) {
	c := NewJobsCLIWith(&recordingEnqueuer{}, nil)
	_, err := c.Trigger(context.Background(), "reindex")
	require.ErrorContains(t, err, "unsupported job")
}

func TestInspectQueue(t *testing.T) {
	c := NewJobsCLIWith(nil, stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 4, Retry: 1}})
	stats, err := c.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 4, Retry: 1}, stats)

	c = NewJobsCLIWith(nil, stubInspector{err: errors.New("redis down")})
	_, err = c.InspectQueue()
	require.Error(t, err)

	var nilCLI *JobsCLI
	_, err = nilCLI.InspectQueue()
	require.Error(t, err)
}
