package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/flockadmin/console/internal/jobs"
	"github.com/flockadmin/console/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionAdmin is the subset of rbac.Service the permission jobs use.
type PermissionAdmin interface {
	SeedDefaults(ctx context.Context) ([]rbac.RoleID, error)
	InvalidateAll(ctx context.Context)
}

// RBACJob runs permission maintenance tasks.
type RBACJob struct {
	Admin   PermissionAdmin
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRBACJob wires dependencies for the permission handlers.
func NewRBACJob(admin PermissionAdmin, logger *slog.Logger, metrics *jobmetrics.Metrics) *RBACJob {
	return &RBACJob{Admin: admin, Logger: logger, Metrics: metrics}
}

// HandleSeedDefaults processes TaskRBACSeedDefaults tasks.
func (j *RBACJob) HandleSeedDefaults(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Admin == nil {
		return errors.New("rbac seed: handler not configured")
	}
	var payload SeedDefaultsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskRBACSeedDefaults)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	start := time.Now()
	seeded, err := j.Admin.SeedDefaults(ctx)
	j.metrics().AddSeededRoles(len(seeded))
	if err != nil {
		logger.Error("seed rbac defaults", slog.Int("seeded", len(seeded)), slog.Any("error", err))
		return err
	}
	roles := make([]string, len(seeded))
	for i, id := range seeded {
		roles[i] = string(id)
	}
	logger.Info("seeded rbac defaults", slog.Any("roles", roles), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleInvalidateAll processes TaskRBACInvalidateAll tasks.
func (j *RBACJob) HandleInvalidateAll(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Admin == nil {
		return errors.New("rbac invalidate: handler not configured")
	}
	tracker := j.metrics().Track(TaskRBACInvalidateAll)
	j.Admin.InvalidateAll(ctx)
	j.logger().Info("broadcast rbac cache flush")
	return tracker.End(nil)
}

// Handlers lists the task handlers of this job for WorkerConfig.
func (j *RBACJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRBACSeedDefaults, Handler: j.HandleSeedDefaults},
		{Type: TaskRBACInvalidateAll, Handler: j.HandleInvalidateAll},
	}
}

func (j *RBACJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RBACJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
