package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/locale"
	"wetmill_sms/internal/domain/outgoing"
	idb "wetmill_sms/internal/infra/database"
	"wetmill_sms/internal/infra/observability"
)

// InboundService answers an incoming message with the help text that applies
// to its sender. Parsing of submissions happens elsewhere; anything reaching
// here is unrecognized.
type InboundService struct {
	connections      outgoing.Repository
	countries        locale.Repository
	help             *HelpService
	backendCountries map[string]string
	defaultLanguage  string
	logger           *logrus.Entry
}

func NewInboundService(
	connections outgoing.Repository,
	countries locale.Repository,
	help *HelpService,
	backendCountries map[string]string,
	defaultLanguage string,
	logger *logrus.Entry,
) *InboundService {
	return &InboundService{
		connections:      connections,
		countries:        countries,
		help:             help,
		backendCountries: backendCountries,
		defaultLanguage:  defaultLanguage,
		logger:           logger,
	}
}

// Handle replies to text received from identity on backend. languageHint,
// when set, wins over the backend's country language.
func (s *InboundService) Handle(ctx context.Context, backend, identity, text, languageHint string) (*outgoing.Message, error) {
	log := s.logger.WithFields(logrus.Fields{"backend": backend, "identity": identity})

	conn, err := s.connections.EnsureConnection(ctx, backend, identity)
	if err != nil {
		observability.InboundMessages.WithLabelValues(backend, "error").Inc()
		return nil, fmt.Errorf("failed to resolve connection: %w", err)
	}

	language := languageHint
	if language == "" {
		language = s.languageFor(ctx, backend)
	}

	msg, err := s.help.Reply(ctx, *conn, language)
	switch {
	case err != nil:
		observability.InboundMessages.WithLabelValues(backend, "error").Inc()
		return msg, err
	case msg == nil:
		observability.InboundMessages.WithLabelValues(backend, "no_help").Inc()
		log.WithField("text", text).Info("No help message for inbound text")
	default:
		observability.InboundMessages.WithLabelValues(backend, "help").Inc()
	}
	return msg, nil
}

func (s *InboundService) languageFor(ctx context.Context, backend string) string {
	code, ok := s.backendCountries[backend]
	if !ok {
		return s.defaultLanguage
	}
	country, err := s.countries.GetCountryByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, idb.ErrCountryNotFound) {
			s.logger.WithError(err).WithField("country", code).Warn("Failed to load country language")
		}
		return s.defaultLanguage
	}
	if country.Language == "" {
		return s.defaultLanguage
	}
	return country.Language
}
