package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hht-diary/authcore/internal/models"
)

// SponsorPatternRepository provides linking-code patterns
type SponsorPatternRepository interface {
	GetAllActivePatterns(ctx context.Context) ([]models.SponsorPattern, error)
	FindBySponsorID(ctx context.Context, sponsorID string) ([]models.SponsorPattern, error)
}

// SponsorPatternMatcher picks the sponsor pattern for a linking code.
type SponsorPatternMatcher struct{}

// Match returns the active pattern with the longest prefix of code.
// Matching ignores case and surrounding whitespace. Patterns with an empty
// prefix never match. Two active patterns with the same prefix are resolved
// to the one with the smallest SponsorID so the result does not depend on
// input order.
func (SponsorPatternMatcher) Match(code string, patterns []models.SponsorPattern) (*models.SponsorPattern, bool) {
	candidate := normalizeLinkingCode(code)
	if candidate == "" {
		return nil, false
	}

	var best *models.SponsorPattern
	for i := range patterns {
		p := &patterns[i]
		if !p.Active {
			continue
		}
		prefix := normalizeLinkingCode(p.Prefix)
		if prefix == "" || !strings.HasPrefix(candidate, prefix) {
			continue
		}

		if best == nil {
			best = p
			continue
		}
		bestLen := len(normalizeLinkingCode(best.Prefix))
		if len(prefix) > bestLen || (len(prefix) == bestLen && p.SponsorID < best.SponsorID) {
			best = p
		}
	}

	if best == nil {
		return nil, false
	}
	match := *best
	return &match, true
}

func normalizeLinkingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SponsorService resolves the sponsor a user belongs to
type SponsorService struct {
	repo    SponsorPatternRepository
	matcher SponsorPatternMatcher
	logger  *slog.Logger
}

// NewSponsorService creates a new SponsorService
func NewSponsorService(repo SponsorPatternRepository, logger *slog.Logger) *SponsorService {
	return &SponsorService{
		repo:   repo,
		logger: logger,
	}
}

// ResolveLinkingCode identifies the sponsor from the prefix of a linking code
func (s *SponsorService) ResolveLinkingCode(ctx context.Context, code string) (models.Sponsor, error) {
	patterns, err := s.repo.GetAllActivePatterns(ctx)
	if err != nil {
		s.logger.Error("failed to load sponsor patterns", slog.Any("error", err))
		return models.Sponsor{}, fmt.Errorf("%w: load sponsor patterns: %w", models.ErrRepositoryUnavailable, err)
	}

	pattern, ok := s.matcher.Match(code, patterns)
	if !ok {
		s.logger.Info("linking code did not match any active sponsor pattern")
		return models.Sponsor{}, models.ErrSponsorNotResolved
	}

	return models.Sponsor{ID: pattern.SponsorID, URL: pattern.SponsorURL}, nil
}

// ResolveSponsorID confirms sponsorID has at least one active pattern and
// returns its URL
func (s *SponsorService) ResolveSponsorID(ctx context.Context, sponsorID string) (models.Sponsor, error) {
	sponsorID = strings.TrimSpace(sponsorID)
	if sponsorID == "" {
		return models.Sponsor{}, models.ErrSponsorNotResolved
	}

	patterns, err := s.repo.FindBySponsorID(ctx, sponsorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Sponsor{}, models.ErrSponsorNotResolved
		}
		s.logger.Error("failed to load sponsor patterns", slog.String("sponsor_id", sponsorID), slog.Any("error", err))
		return models.Sponsor{}, fmt.Errorf("%w: load sponsor %s: %w", models.ErrRepositoryUnavailable, sponsorID, err)
	}

	for _, p := range patterns {
		if p.Active && p.SponsorID == sponsorID {
			return models.Sponsor{ID: p.SponsorID, URL: p.SponsorURL}, nil
		}
	}

	s.logger.Info("sponsor has no active patterns", slog.String("sponsor_id", sponsorID))
	return models.Sponsor{}, models.ErrSponsorNotResolved
}
