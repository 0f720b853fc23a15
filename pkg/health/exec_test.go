package health

import (
	"context"
	"testing"
	"time"
)

func TestExecCheckerHealthyOnZeroExit(t *testing.T) {
	checker := NewExecChecker([]string{"true"})
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got: %s", result.Message)
	}
}

func TestExecCheckerUnhealthyOnNonZeroExit(t *testing.T) {
	checker := NewExecChecker([]string{"false"})
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a failing command")
	}
}

func TestExecCheckerUnhealthyOnMissingCommand(t *testing.T) {
	checker := NewExecChecker([]string{"sandboxd-no-such-binary"})
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a missing binary")
	}
}

func TestExecCheckerNoCommandSpecified(t *testing.T) {
	checker := NewExecChecker(nil)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy when no command is specified")
	}
}

func TestExecCheckerRespectsTimeout(t *testing.T) {
	checker := NewExecChecker([]string{"sleep", "2"}).WithTimeout(50 * time.Millisecond)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy when the command exceeds its timeout")
	}
}
