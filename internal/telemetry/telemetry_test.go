package telemetry

import (
	"context"
	"testing"

	"github.com/yoockh/casescribe/internal/logger"
)

func TestSetupWithoutExporterIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil shutdown error, got %v", err)
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Stdout: true, Environment: "test"}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil shutdown error, got %v", err)
	}
}
