package patient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/pkg/pagination"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "patient").Logger()}
}

// ListSummaries returns the patient list page and the total count.
func (s *Service) ListSummaries(ctx context.Context, p pagination.Params) ([]Summary, int, error) {
	patients, total, err := s.repo.List(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Summary, 0, len(patients))
	for _, pt := range patients {
		out = append(out, SummaryOf(pt))
	}
	return out, total, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) SavePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid patient: %w", err)
	}
	return s.repo.Upsert(ctx, p)
}

// Seed stores every patient, stopping at the first failure.
func (s *Service) Seed(ctx context.Context, patients []*Patient) (int, error) {
	for i, p := range patients {
		if err := s.SavePatient(ctx, p); err != nil {
			return i, err
		}
	}
	s.logger.Info().Int("count", len(patients)).Msg("patients seeded")
	return len(patients), nil
}
