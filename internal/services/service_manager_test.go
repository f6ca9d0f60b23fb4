package services

import (
	"context"
	"testing"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/events"
)

func TestServiceManager_Initialize(t *testing.T) {
	manager := NewServiceManager(ServiceManagerConfig{
		Repository: newFakeRepo(),
		Oracle:     newFakeOracle(),
		Pool:       newFakePool(5),
		Publisher:  events.NewMockEventPublisher(testLogger()),
		Clock:      clock.NewManual(testStart),
		Logger:     testLogger(),
	})

	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if manager.Template() == nil {
		t.Error("Template() returned nil after Initialize")
	}
	if manager.Session() == nil {
		t.Error("Session() returned nil after Initialize")
	}
	if manager.Monitor() == nil {
		t.Error("Monitor() returned nil after Initialize")
	}

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	// Initialize is idempotent.
	if err := manager.Initialize(context.Background()); err != nil {
		t.Errorf("repeat Initialize() error = %v", err)
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestServiceManager_MissingDependencies(t *testing.T) {
	manager := NewServiceManager(ServiceManagerConfig{
		Oracle: newFakeOracle(),
		Logger: testLogger(),
	})
	if err := manager.Initialize(context.Background()); err == nil {
		t.Error("Initialize() without repository succeeded, want error")
	}

	manager = NewServiceManager(ServiceManagerConfig{
		Repository: newFakeRepo(),
		Logger:     testLogger(),
	})
	if err := manager.Initialize(context.Background()); err == nil {
		t.Error("Initialize() without oracle succeeded, want error")
	}
}

func TestServiceManager_PanicsBeforeInitialize(t *testing.T) {
	manager := NewServiceManager(ServiceManagerConfig{
		Repository: newFakeRepo(),
		Oracle:     newFakeOracle(),
		Logger:     testLogger(),
	})

	defer func() {
		if recover() == nil {
			t.Error("Session() before Initialize did not panic")
		}
	}()
	manager.Session()
}
