package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

type stubVisitors struct {
	getFn      func(ctx context.Context, id uuid.UUID) (*visitors.VisitorDTO, error)
	checkOutFn func(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*visitors.VisitorDTO, error)
	checkouts  int
}

func (s *stubVisitors) Get(ctx context.Context, id uuid.UUID) (*visitors.VisitorDTO, error) {
	return s.getFn(ctx, id)
}

func (s *stubVisitors) CheckOut(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*visitors.VisitorDTO, error) {
	s.checkouts++
	return s.checkOutFn(ctx, id, actor)
}

// memoryVisitors keeps one visitor and applies the checkout precondition.
func memoryVisitors(v *visitors.VisitorDTO) *stubVisitors {
	return &stubVisitors{
		getFn: func(_ context.Context, id uuid.UUID) (*visitors.VisitorDTO, error) {
			if id != v.ID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "visitor not found")
			}
			snapshot := *v
			return &snapshot, nil
		},
		checkOutFn: func(_ context.Context, id uuid.UUID, _ outbox.ActorRef) (*visitors.VisitorDTO, error) {
			if err := visitors.ValidateTransition(v.Status, enums.VisitorStatusCheckedOut); err != nil {
				return nil, err
			}
			now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
			v.Status = enums.VisitorStatusCheckedOut
			v.CheckOutTime = &now
			snapshot := *v
			return &snapshot, nil
		},
	}
}

func newTestService(t *testing.T, stub *stubVisitors) Service {
	t.Helper()
	svc, err := NewService(stub, config.CheckoutConfig{RedirectPath: "/", RedirectDelay: 3 * time.Second}, nil, logger.New(logger.Options{ServiceName: "checkout-test"}))
	require.NoError(t, err)
	return svc
}

func TestRedeemChecksOutAndSchedulesRedirect(t *testing.T) {
	v := &visitors.VisitorDTO{ID: uuid.New(), Status: enums.VisitorStatusCheckedIn}
	stub := memoryVisitors(v)
	svc := newTestService(t, stub)

	res, err := svc.Redeem(context.Background(), v.ID, outbox.ActorRef{Kind: outbox.ActorVisitor})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedOut, res.Outcome)
	assert.False(t, res.AlreadyCheckedOut)
	require.NotNil(t, res.CheckedOutAt)
	assert.Equal(t, "/", res.RedirectTo)
	assert.Equal(t, 3, res.RedirectAfterSeconds)
}

func TestRedeemTwiceReturnsAlreadyCheckedOut(t *testing.T) {
	v := &visitors.VisitorDTO{ID: uuid.New(), Status: enums.VisitorStatusCheckedIn}
	stub := memoryVisitors(v)
	svc := newTestService(t, stub)

	first, err := svc.Redeem(context.Background(), v.ID, outbox.ActorRef{Kind: outbox.ActorVisitor})
	require.NoError(t, err)

	second, err := svc.Redeem(context.Background(), v.ID, outbox.ActorRef{Kind: outbox.ActorVisitor})
	require.NoError(t, err)
	assert.True(t, second.AlreadyCheckedOut)
	assert.Equal(t, OutcomeAlreadyCheckedOut, second.Outcome)
	assert.Equal(t, first.CheckedOutAt, second.CheckedOutAt)
	assert.Empty(t, second.RedirectTo)
	assert.Equal(t, 1, stub.checkouts)
}

func TestRedeemRegisteredVisitorIsInvalidTransition(t *testing.T) {
	v := &visitors.VisitorDTO{ID: uuid.New(), Status: enums.VisitorStatusRegistered}
	svc := newTestService(t, memoryVisitors(v))

	_, err := svc.Redeem(context.Background(), v.ID, outbox.ActorRef{Kind: outbox.ActorVisitor})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, enums.VisitorStatusRegistered, v.Status)
}

func TestRedeemUnknownVisitor(t *testing.T) {
	v := &visitors.VisitorDTO{ID: uuid.New(), Status: enums.VisitorStatusCheckedIn}
	svc := newTestService(t, memoryVisitors(v))

	_, err := svc.Redeem(context.Background(), uuid.New(), outbox.ActorRef{Kind: outbox.ActorVisitor})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRedeemLosingRaceReportsAlreadyCheckedOut(t *testing.T) {
	id := uuid.New()
	checkedOutAt := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	calls := 0
	stub := &stubVisitors{
		getFn: func(context.Context, uuid.UUID) (*visitors.VisitorDTO, error) {
			calls++
			if calls == 1 {
				return &visitors.VisitorDTO{ID: id, Status: enums.VisitorStatusCheckedIn}, nil
			}
			return &visitors.VisitorDTO{ID: id, Status: enums.VisitorStatusCheckedOut, CheckOutTime: &checkedOutAt}, nil
		},
		checkOutFn: func(context.Context, uuid.UUID, outbox.ActorRef) (*visitors.VisitorDTO, error) {
			return nil, visitors.ValidateTransition(enums.VisitorStatusCheckedOut, enums.VisitorStatusCheckedOut)
		},
	}
	svc := newTestService(t, stub)

	res, err := svc.Redeem(context.Background(), id, outbox.ActorRef{Kind: outbox.ActorOperator})
	require.NoError(t, err)
	assert.True(t, res.AlreadyCheckedOut)
	assert.Equal(t, &checkedOutAt, res.CheckedOutAt)
}

func TestRedeemStoreFailureIsRetryable(t *testing.T) {
	id := uuid.New()
	stub := &stubVisitors{
		getFn: func(context.Context, uuid.UUID) (*visitors.VisitorDTO, error) {
			return &visitors.VisitorDTO{ID: id, Status: enums.VisitorStatusCheckedIn}, nil
		},
		checkOutFn: func(context.Context, uuid.UUID, outbox.ActorRef) (*visitors.VisitorDTO, error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("conn reset"), "update visitor status")
		},
	}
	svc := newTestService(t, stub)

	_, err := svc.Redeem(context.Background(), id, outbox.ActorRef{Kind: outbox.ActorVisitor})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeDependency).Retryable)
}

func TestResolveAndView(t *testing.T) {
	v := &visitors.VisitorDTO{ID: uuid.New(), Name: "A B", Status: enums.VisitorStatusCheckedIn}
	svc := newTestService(t, memoryVisitors(v))

	view, err := svc.Resolve(context.Background(), "https://gate.example.com/checkout/"+v.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Checked In", view.StatusLabel)
	assert.True(t, view.CanCheckOut)

	_, err = svc.Resolve(context.Background(), "https://gate.example.com/elsewhere")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Checked Out", StatusLabel(enums.VisitorStatusCheckedOut))
	assert.Equal(t, "Registered", StatusLabel(enums.VisitorStatusRegistered))
	assert.Equal(t, "Unknown", StatusLabel("bogus"))
}
