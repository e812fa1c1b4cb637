package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	events "safesite-cloud/internal/events/domain"
)

// Video is one recorded accident clip.
type Video struct {
	ID        string
	SiteID    int64
	URL       string
	CreatedAt time.Time
}

// VideoRepository is the durable store for video records.
type VideoRepository interface {
	Insert(ctx context.Context, video Video) error
}

// Clock abstracts now.
type Clock interface {
	Now() time.Time
}

// Service registers accident video artifacts. The clip itself is
// produced and uploaded out of band; this service only mints the record
// and the URL viewers will fetch.
type Service struct {
	repo    VideoRepository
	baseURL string
	clock   Clock
	logger  *log.Logger
}

// NewService constructs the media service. baseURL is the public prefix
// under which clips become reachable.
func NewService(repo VideoRepository, baseURL string, clock Clock, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("media: repository required")
	}
	if baseURL == "" {
		return nil, errors.New("media: base url required")
	}
	if clock == nil {
		return nil, errors.New("media: clock required")
	}
	return &Service{
		repo:    repo,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		clock:   clock,
		logger:  logger,
	}, nil
}

// Create mints a video record for the event and returns its URL.
func (s *Service) Create(ctx context.Context, event events.Event) (string, error) {
	video := Video{
		ID:        uuid.NewString(),
		SiteID:    event.SiteID,
		CreatedAt: s.clock.Now(),
	}
	video.URL = fmt.Sprintf("%s/%s.mp4", s.baseURL, video.ID)

	if err := s.repo.Insert(ctx, video); err != nil {
		return "", fmt.Errorf("media: inserting video record: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("media: video %s registered for site %d", video.ID, video.SiteID)
	}
	return video.URL, nil
}
