package settings

import (
	"context"
	"errors"
)

// Repository is the persistence contract for the settings singleton.
type Repository interface {
	// Get returns the stored settings; ok=false when never written.
	Get(ctx context.Context) (Settings, bool, error)
	Put(ctx context.Context, s Settings) error
}

// Service owns reads and clamped writes of the settings singleton.
//
// Guardrail purity note: callers load settings once per cycle and pass the
// value through; nothing below this service reads ambient configuration.
type Service struct {
	repo     Repository
	defaults Settings
}

func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults.Normalize()}
}

func (s *Service) Get(ctx context.Context) (Settings, error) {
	if s.repo == nil {
		return Settings{}, errors.New("settings: repository not configured")
	}
	cur, ok, err := s.repo.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		// Seed lazily so the first cycle after boot sees config defaults.
		if err := s.repo.Put(ctx, s.defaults); err != nil {
			return Settings{}, err
		}
		return s.defaults, nil
	}
	return cur.Normalize(), nil
}

// Update merges the patch, re-validates and clamps every field, persists,
// and returns the stored value.
func (s *Service) Update(ctx context.Context, p Patch) (Settings, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := cur.Apply(p).Normalize()
	if err := s.repo.Put(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
