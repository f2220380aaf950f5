// Package router persists outgoing messages and hands them to the backend
// registered for the connection's transport.
package router

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/infra/observability"
)

var ErrNoBackend = errors.New("no backend registered")

const (
	limiterWait = 2 * time.Second
	sendTimeout = 6 * time.Second
)

// Route is one backend with its own throttle and circuit breaker. Either may be nil.
type Route struct {
	Backend outgoing.Backend
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
}

// NewBreaker returns the breaker settings used for every provider.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})
}

type Router struct {
	repo   outgoing.Repository
	logger *logrus.Entry

	mu     sync.RWMutex
	routes map[string]*Route

	now   func() time.Time
	newID func(time.Time) string
}

func New(repo outgoing.Repository, logger *logrus.Entry) *Router {
	return &Router{
		repo:   repo,
		logger: logger,
		routes: make(map[string]*Route),
		now:    time.Now,
		newID:  NewMessageID,
	}
}

// NewMessageID returns a sortable message id.
func NewMessageID(t time.Time) string {
	return "msg_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Handle routes connections on each of the backend names through route.
// Several names may share one route, e.g. every SMS aggregator behind Twilio.
func (r *Router) Handle(route *Route, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.routes[name] = route
	}
}

func (r *Router) route(backend string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[backend]
	return rt, ok
}

// AddOutgoing stores the message as queued, sends it once and records the
// outcome. Failed sends are not retried.
func (r *Router) AddOutgoing(ctx context.Context, conn outgoing.Connection, text string) (*outgoing.Message, error) {
	if conn.ID == 0 {
		stored, err := r.repo.EnsureConnection(ctx, conn.Backend, conn.Identity)
		if err != nil {
			return nil, fmt.Errorf("error resolving connection %s/%s: %w", conn.Backend, conn.Identity, err)
		}
		conn = *stored
	}

	now := r.now()
	msg := &outgoing.Message{
		ID:           r.newID(now),
		ConnectionID: conn.ID,
		Backend:      conn.Backend,
		Identity:     conn.Identity,
		Text:         text,
		Status:       outgoing.StatusQueued,
		CreatedAt:    now,
	}
	if err := r.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("error storing outgoing message: %w", err)
	}

	log := r.logger.WithFields(logrus.Fields{"message_id": msg.ID, "backend": conn.Backend, "connection_id": conn.ID})

	rt, ok := r.route(conn.Backend)
	if !ok {
		observability.MessagesSent.WithLabelValues(conn.Backend, "no_backend").Inc()
		return r.fail(ctx, msg, log, fmt.Errorf("%w for %q", ErrNoBackend, conn.Backend))
	}

	if rt.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, limiterWait)
		err := rt.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.MessagesSent.WithLabelValues(conn.Backend, "rate_limited").Inc()
			return r.fail(ctx, msg, log, fmt.Errorf("rate limited: %w", err))
		}
	}

	start := time.Now()
	providerID, err := r.execute(ctx, rt, conn.Identity, text)
	observability.SendLatency.WithLabelValues(conn.Backend).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.MessagesSent.WithLabelValues(conn.Backend, failureLabel(err)).Inc()
		return r.fail(ctx, msg, log, err)
	}

	sentAt := r.now()
	if err := r.repo.MarkSent(ctx, msg.ID, providerID, sentAt); err != nil {
		// The provider accepted it; a bookkeeping failure does not undo delivery.
		log.WithError(err).Error("failed to mark message sent")
	}
	msg.Status = outgoing.StatusSent
	msg.ProviderMessageID.String, msg.ProviderMessageID.Valid = providerID, providerID != ""
	msg.SentAt.Time, msg.SentAt.Valid = sentAt, true

	observability.MessagesSent.WithLabelValues(conn.Backend, "ok").Inc()
	log.Debug("message sent")
	return msg, nil
}

func (r *Router) execute(ctx context.Context, rt *Route, identity, text string) (string, error) {
	call := func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		return rt.Backend.Send(sendCtx, identity, text)
	}

	if rt.Breaker == nil {
		res, err := call()
		if err != nil {
			return "", err
		}
		return res.(string), nil
	}

	res, err := rt.Breaker.Execute(call)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (r *Router) fail(ctx context.Context, msg *outgoing.Message, log *logrus.Entry, cause error) (*outgoing.Message, error) {
	at := r.now()
	if err := r.repo.MarkFailed(ctx, msg.ID, cause.Error(), at); err != nil {
		log.WithError(err).Error("failed to mark message failed")
	}
	msg.Status = outgoing.StatusFailed
	msg.LastError.String, msg.LastError.Valid = cause.Error(), true
	log.WithError(cause).Warn("message not delivered")
	return msg, cause
}

func failureLabel(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "cb_open"
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) && t.Transient() {
		return "transient"
	}
	return "failed"
}
