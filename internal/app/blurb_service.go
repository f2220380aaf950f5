package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	idb "wetmill_sms/internal/infra/database"
)

type BlurbService struct {
	repo     message.BlurbRepository
	renderer *Renderer
	logger   *logrus.Entry
}

func NewBlurbService(repo message.BlurbRepository, renderer *Renderer, logger *logrus.Entry) *BlurbService {
	return &BlurbService{repo: repo, renderer: renderer, logger: logger}
}

// Get renders the blurb for (form, slug) in language. A missing blurb is
// created from def first so it shows up for editing.
func (s *BlurbService) Get(ctx context.Context, form, slug, language string, vars map[string]any, def string) (string, error) {
	b, err := s.repo.GetBlurb(ctx, form, slug)
	if errors.Is(err, idb.ErrBlurbNotFound) {
		b = &message.Blurb{
			Form:        form,
			Slug:        slug,
			Description: def,
			Message:     message.NewText(def),
		}
		if err := s.repo.CreateBlurb(ctx, b); err != nil {
			return "", fmt.Errorf("failed to create blurb %s/%s: %w", form, slug, err)
		}
		s.logger.WithFields(logrus.Fields{"form": form, "slug": slug}).Info("Created blurb from default text")
	} else if err != nil {
		return "", fmt.Errorf("failed to get blurb %s/%s: %w", form, slug, err)
	}

	text := b.Message.For(language)
	if strings.TrimSpace(text) == "" {
		text = def
	}
	return s.renderer.Render(text, vars), nil
}
