// Package service holds the ticket, refund and order workflows. Services take
// the caller as a domain.Principal, validate against the domain model, persist
// through repository interfaces and publish events after every committed change.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/marketplace-support/internal/clock"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// mapRepoError translates repository sentinels into domain errors.
func mapRepoError(err error, resource string, details map[string]any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, details)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict(resource+" already exists", details)
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewInternalError(err)
}

func requireAdmin(p domain.Principal) error {
	if !p.IsAdmin() {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// eventPublisher stamps and publishes events. A nil dispatcher disables publishing.
type eventPublisher struct {
	dispatcher events.Dispatcher
	clock      clock.Clock
}

func (p eventPublisher) publish(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock.Now()
	}
	_ = p.dispatcher.Publish(ctx, event)
}

func defaultClock(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.Real()
	}
	return c
}
