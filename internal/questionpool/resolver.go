package questionpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/exam-engine/internal/cache"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"gorm.io/gorm"
)

// Resolver answers capacity and sampling questions about the question pool
// for a given content selection.
type Resolver interface {
	// CountAvailable returns how many questions match the selection.
	CountAvailable(ctx context.Context, sel *models.ContentSelection) (int64, error)

	// DifficultyBreakdown returns the matching question count per difficulty.
	DifficultyBreakdown(ctx context.Context, sel *models.ContentSelection) (map[models.DifficultyLevel]int64, error)

	// Sample returns up to n random questions matching the selection,
	// excluding the given question ids. Used as the delivery source when the
	// knowledge oracle is unavailable.
	Sample(ctx context.Context, sel *models.ContentSelection, excludeIDs []uint, n int) ([]*models.Question, error)

	// GetQuestion loads one question including its stored answer key.
	GetQuestion(ctx context.Context, id uint) (*models.Question, error)
}

type gormResolver struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	logger       *slog.Logger
}

func NewResolver(db *gorm.DB, cacheManager *cache.CacheManager, logger *slog.Logger) Resolver {
	return &gormResolver{
		db:           db,
		cacheManager: cacheManager,
		logger:       logger,
	}
}

func (r *gormResolver) CountAvailable(ctx context.Context, sel *models.ContentSelection) (int64, error) {
	cacheKey := selectionCacheKey(sel)

	var count int64
	err := r.cacheManager.Pool.CacheOrExecute(ctx, cacheKey, &count, cache.PoolCacheConfig.TTL, func() (interface{}, error) {
		var fresh int64
		query, err := r.selectionQuery(ctx, sel)
		if err != nil {
			return nil, err
		}
		if err := query.Count(&fresh).Error; err != nil {
			return nil, fmt.Errorf("failed to count question pool: %w", err)
		}
		return fresh, nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *gormResolver) DifficultyBreakdown(ctx context.Context, sel *models.ContentSelection) (map[models.DifficultyLevel]int64, error) {
	query, err := r.selectionQuery(ctx, sel)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Difficulty models.DifficultyLevel
		Count      int64
	}
	err = query.
		Select("difficulty, COUNT(*) as count").
		Group("difficulty").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute difficulty breakdown: %w", err)
	}

	breakdown := make(map[models.DifficultyLevel]int64, len(rows))
	for _, row := range rows {
		breakdown[row.Difficulty] = row.Count
	}
	return breakdown, nil
}

func (r *gormResolver) Sample(ctx context.Context, sel *models.ContentSelection, excludeIDs []uint, n int) ([]*models.Question, error) {
	if n <= 0 {
		return nil, nil
	}

	query, err := r.selectionQuery(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}

	var questions []*models.Question
	err = query.
		Order("RANDOM()").
		Limit(n).
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sample question pool: %w", err)
	}

	return questions, nil
}

func (r *gormResolver) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get question %d: %w", id, err)
	}
	return &question, nil
}

func (r *gormResolver) selectionQuery(ctx context.Context, sel *models.ContentSelection) (*gorm.DB, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Question{}).
		Where("subject_id = ?", sel.SubjectID)

	if sel.Mode == models.SelectionSpecificChapters {
		chapterIDs, err := decodeUintArray(sel.ChapterIDs)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter selection: %w", err)
		}
		if len(chapterIDs) > 0 {
			query = query.Where("chapter_id IN ?", chapterIDs)
		}
	}

	difficulties, err := decodeStringArray(sel.DifficultyLevels)
	if err != nil {
		return nil, fmt.Errorf("invalid difficulty selection: %w", err)
	}
	if len(difficulties) > 0 {
		query = query.Where("difficulty IN ?", difficulties)
	}

	return query, nil
}

func selectionCacheKey(sel *models.ContentSelection) string {
	return fmt.Sprintf("count:subject:%d:mode:%s:chapters:%s:difficulty:%s",
		sel.SubjectID, sel.Mode, string(sel.ChapterIDs), string(sel.DifficultyLevels))
}

func decodeUintArray(raw []byte) ([]uint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []uint
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStringArray(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
