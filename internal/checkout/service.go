package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

// Redemption outcomes, also used as metric labels.
const (
	OutcomeCheckedOut        = "checked_out"
	OutcomeAlreadyCheckedOut = "already_checked_out"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeNotFound          = "not_found"
	OutcomeFailed            = "failed"
)

type visitorService interface {
	Get(ctx context.Context, id uuid.UUID) (*visitors.VisitorDTO, error)
	CheckOut(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*visitors.VisitorDTO, error)
}

// View is what a checkout page shows before redemption.
type View struct {
	Visitor     visitors.VisitorDTO `json:"visitor"`
	StatusLabel string              `json:"statusLabel"`
	CanCheckOut bool                `json:"canCheckOut"`
}

// Result describes a redemption attempt that did not fail.
type Result struct {
	Visitor              visitors.VisitorDTO `json:"visitor"`
	Outcome              string              `json:"outcome"`
	AlreadyCheckedOut    bool                `json:"alreadyCheckedOut"`
	CheckedOutAt         *time.Time          `json:"checkedOutAt"`
	Message              string              `json:"message"`
	RedirectTo           string              `json:"redirectTo,omitempty"`
	RedirectAfterSeconds int                 `json:"redirectAfterSeconds,omitempty"`
}

// Service runs the checkout redemption flow for scanned tokens and dashboard
// actions.
type Service interface {
	View(ctx context.Context, id uuid.UUID) (*View, error)
	Resolve(ctx context.Context, scanned string) (*View, error)
	Redeem(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*Result, error)
}

type service struct {
	visitors      visitorService
	metrics       *metrics.VisitorMetrics
	logg          *logger.Logger
	redirectTo    string
	redirectAfter time.Duration
}

func NewService(visitorSvc visitorService, cfg config.CheckoutConfig, m *metrics.VisitorMetrics, logg *logger.Logger) (Service, error) {
	if visitorSvc == nil {
		return nil, fmt.Errorf("visitor service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	redirectTo := cfg.RedirectPath
	if redirectTo == "" {
		redirectTo = "/"
	}
	redirectAfter := cfg.RedirectDelay
	if redirectAfter <= 0 {
		redirectAfter = 3 * time.Second
	}
	return &service{
		visitors:      visitorSvc,
		metrics:       m,
		logg:          logg,
		redirectTo:    redirectTo,
		redirectAfter: redirectAfter,
	}, nil
}

func (s *service) View(ctx context.Context, id uuid.UUID) (*View, error) {
	visitor, err := s.visitors.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{
		Visitor:     *visitor,
		StatusLabel: StatusLabel(visitor.Status),
		CanCheckOut: visitor.Status == enums.VisitorStatusCheckedIn,
	}, nil
}

func (s *service) Resolve(ctx context.Context, scanned string) (*View, error) {
	id, err := qrtoken.Resolve(scanned)
	if err != nil {
		return nil, err
	}
	return s.View(ctx, id)
}

// Redeem checks a visitor out. A visitor who is already checked out gets a
// successful result carrying the original checkout time and no new event.
func (s *service) Redeem(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*Result, error) {
	logCtx := s.logg.WithVisitorID(ctx, id.String())

	current, err := s.visitors.Get(ctx, id)
	if err != nil {
		s.record(err)
		return nil, err
	}
	if current.Status == enums.VisitorStatusCheckedOut {
		return s.alreadyCheckedOut(logCtx, current), nil
	}

	updated, err := s.visitors.CheckOut(ctx, id, actor)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
			// A concurrent redemption may have won the race.
			if latest, getErr := s.visitors.Get(ctx, id); getErr == nil && latest.Status == enums.VisitorStatusCheckedOut {
				return s.alreadyCheckedOut(logCtx, latest), nil
			}
		}
		s.record(err)
		return nil, err
	}

	s.metrics.IncCheckout(OutcomeCheckedOut)
	s.logg.Info(logCtx, "visitor checked out")
	return &Result{
		Visitor:              *updated,
		Outcome:              OutcomeCheckedOut,
		CheckedOutAt:         updated.CheckOutTime,
		Message:              "Checked out successfully. Thank you for visiting!",
		RedirectTo:           s.redirectTo,
		RedirectAfterSeconds: int(s.redirectAfter / time.Second),
	}, nil
}

func (s *service) alreadyCheckedOut(ctx context.Context, visitor *visitors.VisitorDTO) *Result {
	s.metrics.IncCheckout(OutcomeAlreadyCheckedOut)
	s.logg.Info(ctx, "visitor already checked out")
	return &Result{
		Visitor:           *visitor,
		Outcome:           OutcomeAlreadyCheckedOut,
		AlreadyCheckedOut: true,
		CheckedOutAt:      visitor.CheckOutTime,
		Message:           "This visitor has already checked out.",
	}
}

func (s *service) record(err error) {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		s.metrics.IncCheckout(OutcomeNotFound)
	case pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition):
		s.metrics.IncCheckout(OutcomeInvalidTransition)
	default:
		s.metrics.IncCheckout(OutcomeFailed)
	}
}

// StatusLabel is the human label shown for a status.
func StatusLabel(status enums.VisitorStatus) string {
	switch status {
	case enums.VisitorStatusCheckedIn:
		return "Checked In"
	case enums.VisitorStatusCheckedOut:
		return "Checked Out"
	case enums.VisitorStatusRegistered:
		return "Registered"
	default:
		return "Unknown"
	}
}
