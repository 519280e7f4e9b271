package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"printflow/internal/models"
	"printflow/internal/repositories"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// FeedService reads and acknowledges a user's in-app feed.
type FeedService interface {
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.FeedItem, error)
	MarkRead(ctx context.Context, userID, itemID int64) error
}

type feedService struct {
	repo repositories.FeedRepository
	now  func() time.Time
}

func NewFeedService(repo repositories.FeedRepository, now func() time.Time) FeedService {
	if now == nil {
		now = time.Now
	}
	return &feedService{repo: repo, now: now}
}

func (s *feedService) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.FeedItem, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	items, err := s.repo.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.FeedItem{}
	}
	return items, nil
}

// MarkRead is idempotent; items of other users are reported as missing.
func (s *feedService) MarkRead(ctx context.Context, userID, itemID int64) error {
	err := s.repo.MarkRead(ctx, userID, itemID, s.now().UTC().Truncate(time.Microsecond))
	if errors.Is(err, repositories.ErrFeedItemNotFound) {
		return NotFoundError{Resource: "feed item", ID: strconv.FormatInt(itemID, 10)}
	}
	return err
}
