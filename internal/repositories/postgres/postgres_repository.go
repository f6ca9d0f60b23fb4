package postgres

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/exam-engine/internal/cache"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RepositoryConfig holds the connections the postgres repositories need.
type RepositoryConfig struct {
	DB          *gorm.DB
	RedisClient *redis.Client
}

type gormRepository struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager

	template   repositories.ExamTemplateRepository
	enrollment repositories.EnrollmentRepository
	session    repositories.AttemptSessionRepository
	answer     repositories.SessionAnswerRepository
	user       repositories.UserRepository
}

func newGormRepository(db *gorm.DB, cacheManager *cache.CacheManager) *gormRepository {
	return &gormRepository{
		db:           db,
		cacheManager: cacheManager,
		template:     NewExamTemplatePostgreSQL(db, cacheManager),
		enrollment:   NewEnrollmentPostgreSQL(db),
		session:      NewAttemptSessionPostgreSQL(db),
		answer:       NewSessionAnswerPostgreSQL(db),
		user:         NewUserPostgreSQL(db),
	}
}

func (r *gormRepository) Template() repositories.ExamTemplateRepository   { return r.template }
func (r *gormRepository) Enrollment() repositories.EnrollmentRepository   { return r.enrollment }
func (r *gormRepository) Session() repositories.AttemptSessionRepository  { return r.session }
func (r *gormRepository) Answer() repositories.SessionAnswerRepository    { return r.answer }
func (r *gormRepository) User() repositories.UserRepository               { return r.user }

func (r *gormRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newGormRepository(tx, r.cacheManager))
	})
}

func (r *gormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (r *gormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// repositoryManager implements repositories.RepositoryManager.
type repositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &repositoryManager{config: config}
}

func (m *repositoryManager) Initialize() error {
	if m.config.DB == nil {
		return fmt.Errorf("repository manager requires a database connection")
	}

	m.repo = newGormRepository(m.config.DB, cache.NewCacheManager(m.config.RedisClient))
	return nil
}

func (m *repositoryManager) GetRepository() repositories.Repository {
	return m.repo
}

func (m *repositoryManager) HealthCheck(ctx context.Context) error {
	if m.repo == nil {
		return fmt.Errorf("repository manager not initialized")
	}
	return m.repo.Ping(ctx)
}

func (m *repositoryManager) Shutdown(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.Close()
}
