package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/internal/checkout"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test-controllers", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type stubVisitors struct {
	registered visitors.RegisterInput
	visitor    *visitors.VisitorDTO
	token      *qrtoken.Token
	events     []visitors.VisitEventDTO
	actor      outbox.ActorRef
	err        error
}

func (s *stubVisitors) Register(_ context.Context, input visitors.RegisterInput) (*visitors.RegistrationResult, error) {
	s.registered = input
	if s.err != nil {
		return nil, s.err
	}
	return &visitors.RegistrationResult{Visitor: *s.visitor, QR: s.token}, nil
}

func (s *stubVisitors) Get(_ context.Context, id uuid.UUID) (*visitors.VisitorDTO, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.visitor == nil || s.visitor.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "visitor not found")
	}
	return s.visitor, nil
}

func (s *stubVisitors) CheckIn(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*visitors.VisitorDTO, error) {
	s.actor = actor
	return s.Get(ctx, id)
}

func (s *stubVisitors) CheckOut(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*visitors.VisitorDTO, error) {
	s.actor = actor
	return s.Get(ctx, id)
}

func (s *stubVisitors) IssueToken(ctx context.Context, id uuid.UUID) (*qrtoken.Token, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.token, nil
}

func (s *stubVisitors) ListEvents(context.Context) ([]visitors.VisitEventDTO, error) {
	return s.events, s.err
}

type stubCheckout struct {
	view     *checkout.View
	result   *checkout.Result
	scanned  string
	actor    outbox.ActorRef
	redeemed uuid.UUID
	err      error
}

func (s *stubCheckout) View(context.Context, uuid.UUID) (*checkout.View, error) {
	return s.view, s.err
}

func (s *stubCheckout) Resolve(_ context.Context, scanned string) (*checkout.View, error) {
	s.scanned = scanned
	return s.view, s.err
}

func (s *stubCheckout) Redeem(_ context.Context, id uuid.UUID, actor outbox.ActorRef) (*checkout.Result, error) {
	s.redeemed = id
	s.actor = actor
	return s.result, s.err
}

func sampleVisitor() *visitors.VisitorDTO {
	checkIn := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return &visitors.VisitorDTO{
		ID:                 uuid.New(),
		Name:               "Asha Rao",
		Phone:              "9876543210",
		VehicleNumber:      "KA01AB1234",
		Purpose:            "Interview",
		HostID:             "h-01",
		VisitorType:        enums.VisitorTypeVisitor,
		Assets:             []string{},
		SpecialPermissions: []string{},
		Status:             enums.VisitorStatusCheckedIn,
		CheckInTime:        &checkIn,
	}
}
