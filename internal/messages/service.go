package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/sentiment"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var (
	// ErrInvalidContent indicates the content is empty or exceeds MaxContentLength.
	ErrInvalidContent = errors.New("messages: invalid content")
	// ErrNotFound indicates no message exists for the requested id.
	ErrNotFound = errors.New("messages: not found")

	errMissingDatabase = errors.New("messages: database handle is required")
)

// ServiceConfig describes the dependencies of the message service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the classify-then-persist pipeline and the paginated read
// side of the message log. Both the broadcast hub and the REST send path go
// through Create, so a message is scored exactly once.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the message service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create validates, classifies, and persists a message. The persisted row is
// returned so callers can broadcast the exact stored representation.
func (s *Service) Create(ctx context.Context, senderID, content string) (Message, error) {
	if strings.TrimSpace(senderID) == "" {
		return Message{}, fmt.Errorf("%w: sender required", ErrInvalidContent)
	}
	if content == "" {
		return Message{}, fmt.Errorf("%w: empty content", ErrInvalidContent)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return Message{}, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidContent, MaxContentLength)
	}

	result := sentiment.Analyze(content)
	message := Message{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		Content:        content,
		Timestamp:      s.clock().UTC(),
		SentimentScore: result.Score,
		SentimentLabel: string(result.Label),
	}

	if err := s.db.WithContext(ctx).Omit("Sender").Create(&message).Error; err != nil {
		return Message{}, fmt.Errorf("messages: persist message: %w", err)
	}

	s.logger.Debug("message persisted",
		zap.String("message_id", message.ID),
		zap.String("sentiment", message.SentimentLabel))
	return message, nil
}

// List returns messages newest-first with sender info, server-side paginated.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]View, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var rows []Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Order("timestamp DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("messages: list messages: %w", err)
	}

	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewOf(row))
	}
	return views, nil
}

// Get returns a single message by id.
func (s *Service) Get(ctx context.Context, messageID string) (View, error) {
	var row Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("id = ?", messageID).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if err != nil {
		return View{}, fmt.Errorf("messages: lookup message: %w", err)
	}
	return viewOf(row), nil
}

// SentimentStats aggregates the stored log by sentiment label.
func (s *Service) SentimentStats(ctx context.Context) ([]SentimentStat, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Message{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("messages: count messages: %w", err)
	}

	type labelCount struct {
		SentimentLabel string
		Count          int64
	}
	var counts []labelCount
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Select("sentiment_label, COUNT(*) as count").
		Group("sentiment_label").
		Scan(&counts).
		Error
	if err != nil {
		return nil, fmt.Errorf("messages: aggregate sentiment: %w", err)
	}

	stats := make([]SentimentStat, 0, len(counts))
	for _, entry := range counts {
		percentage := 0.0
		if total > 0 {
			percentage = float64(entry.Count) / float64(total) * 100
		}
		stats = append(stats, SentimentStat{
			Sentiment:  entry.SentimentLabel,
			Count:      entry.Count,
			Percentage: percentage,
		})
	}
	return stats, nil
}
