package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const pingTimeout = 5 * time.Second

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every registered checker; a single failure marks the whole
// report unhealthy.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	now := time.Now()
	report := Health{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]CheckResult, len(r.checkers)),
	}

	for _, checker := range r.checkers {
		result := CheckResult{Status: StatusHealthy, Timestamp: now}
		if err := checker.Check(ctx); err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			report.Status = StatusUnhealthy
		}
		report.Checks[checker.Name()] = result
	}

	return report
}

type pingChecker struct {
	name string
	ping func(context.Context) error
}

func (c pingChecker) Name() string { return c.name }

func (c pingChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

func NewRedisChecker(client *redis.Client) Checker {
	return pingChecker{
		name: "redis",
		ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	}
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	return pingChecker{
		name: "mongodb",
		ping: func(ctx context.Context) error { return client.Ping(ctx, nil) },
	}
}
