package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACSeedDefaults writes the shipped matrix of built-in roles that
	// have none stored yet.
	TaskRBACSeedDefaults = "rbac:seed_defaults"
	// TaskRBACInvalidateAll asks every console instance to drop its
	// permission caches.
	TaskRBACInvalidateAll = "rbac:invalidate_all"
)

// SeedDefaultsPayload configures a seed run.
type SeedDefaultsPayload struct {
	// Reason is logged with the run.
	Reason string `json:"reason,omitempty"`
}

// NewSeedDefaultsTask constructs a seed task.
func NewSeedDefaultsTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(SeedDefaultsPayload{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode seed payload: %w", err)
	}
	return asynq.NewTask(TaskRBACSeedDefaults, data), nil
}

// NewInvalidateAllTask constructs a cache flush task.
func NewInvalidateAllTask() *asynq.Task {
	return asynq.NewTask(TaskRBACInvalidateAll, nil)
}
