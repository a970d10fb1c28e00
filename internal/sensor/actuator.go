package sensor

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Actuator carries out an action named by a cloud-to-device command.
type Actuator interface {
	Trigger(ctx context.Context, action string) error
}

// Pulse drives a GPIO value file high for Hold and then low again.
type Pulse struct {
	Action    string
	ValuePath string
	Hold      time.Duration
}

func (p Pulse) Trigger(ctx context.Context, action string) error {
	if action != p.Action {
		return nil
	}
	if err := os.WriteFile(p.ValuePath, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("sensor: pulse high: %w", err)
	}
	timer := time.NewTimer(p.Hold)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	if err := os.WriteFile(p.ValuePath, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("sensor: pulse low: %w", err)
	}
	return ctx.Err()
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(ctx context.Context, action string) error

func (f ActuatorFunc) Trigger(ctx context.Context, action string) error {
	return f(ctx, action)
}
