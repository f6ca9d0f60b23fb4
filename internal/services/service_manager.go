package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/oracle"
	"github.com/SAP-F-2025/exam-engine/internal/questionpool"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
)

// ServiceManagerConfig holds the shared dependencies for all services.
type ServiceManagerConfig struct {
	Repository repositories.Repository
	Oracle     oracle.Client
	Pool       questionpool.Resolver
	Publisher  events.EventPublisher
	Clock      clock.Clock
	Logger     *slog.Logger
	Validator  *validator.BusinessValidator
}

// serviceManager implements ServiceManager.
type serviceManager struct {
	config ServiceManagerConfig

	templateService *examTemplateService
	sessionService  *sessionService
	monitorService  *monitorService

	initialized bool
	mu          sync.RWMutex
}

func NewServiceManager(config ServiceManagerConfig) ServiceManager {
	return &serviceManager{config: config}
}

// Initialize wires all services together.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	if sm.config.Repository == nil {
		return fmt.Errorf("service manager requires a repository")
	}
	if sm.config.Oracle == nil {
		return fmt.Errorf("service manager requires an oracle client")
	}
	if sm.config.Clock == nil {
		sm.config.Clock = clock.System()
	}
	if sm.config.Validator == nil {
		sm.config.Validator = validator.New(sm.config.Clock)
	}

	sm.config.Logger.Info("Initializing service manager")

	sm.sessionService = NewSessionService(
		sm.config.Repository,
		sm.config.Oracle,
		sm.config.Pool,
		sm.config.Publisher,
		sm.config.Clock,
		sm.config.Logger,
		sm.config.Validator,
	)
	sm.config.Logger.Info("Session service initialized")

	sm.templateService = NewExamTemplateService(
		sm.config.Repository,
		sm.config.Pool,
		sm.config.Publisher,
		sm.config.Clock,
		sm.config.Logger,
		sm.config.Validator,
	)
	// The completion cascade closes live sessions through the session service.
	sm.templateService.SetSessionCloser(sm.sessionService)
	sm.config.Logger.Info("Exam template service initialized")

	sm.monitorService = NewMonitorService(sm.config.Repository, sm.config.Clock, sm.config.Logger)
	sm.config.Logger.Info("Monitor service initialized")

	sm.initialized = true
	sm.config.Logger.Info("Service manager initialized successfully")
	return nil
}

func (sm *serviceManager) Template() ExamTemplateService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.templateService == nil {
		panic("exam template service not initialized")
	}
	return sm.templateService
}

func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.sessionService == nil {
		panic("session service not initialized")
	}
	return sm.sessionService
}

func (sm *serviceManager) Monitor() MonitorService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.monitorService == nil {
		panic("monitor service not initialized")
	}
	return sm.monitorService
}

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	return sm.config.Repository.Ping(ctx)
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.initialized {
		return nil
	}

	sm.config.Logger.Info("Shutting down service manager")

	if sm.config.Publisher != nil {
		if err := sm.config.Publisher.Close(); err != nil {
			sm.config.Logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.initialized = false
	return nil
}
