package repositories

import "context"

// Repository aggregates all repository interfaces used by the engine.
type Repository interface {
	// Exam template domain
	Template() ExamTemplateRepository
	Enrollment() EnrollmentRepository

	// Attempt session domain
	Session() AttemptSessionRepository
	Answer() SessionAnswerRepository

	// User domain (read-only for the exam engine)
	User() UserRepository

	// WithTransaction runs fn against a Repository bound to a single
	// database transaction; returning an error rolls everything back.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
