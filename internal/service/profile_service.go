package service

import (
	"context"
	"errors"
	"maps"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// ErrProfileNotFound is returned when the subject has no active profile
var ErrProfileNotFound = errors.New("profile not found")

// ProfileService projects stored users onto the fields /userinfo exposes
type ProfileService struct {
	repo UserRepository
	opts options
}

// NewProfileService creates a new ProfileService instance
func NewProfileService(repo UserRepository, opts ...Option) *ProfileService {
	return &ProfileService{
		repo: repo,
		opts: newOptions(opts),
	}
}

// Project loads userID and copies the whitelisted profile fields. Inactive
// users are reported as not found.
func (s *ProfileService) Project(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrProfileNotFound
		}
		s.opts.logger.Error().Err(err).Str("user_id", userID).Msg("load profile")
		return nil, storageError(err)
	}
	if !user.IsActive {
		return nil, ErrProfileNotFound
	}

	return &domain.Profile{
		ID:          user.ID,
		Username:    user.Username,
		FullName:    user.FullName,
		AvatarURL:   user.AvatarURL,
		Bio:         user.Bio,
		Email:       user.Email,
		SocialLinks: maps.Clone(user.SocialLinks),
	}, nil
}
