package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/payloads"
)

type fakeLedger struct {
	seen      map[uuid.UUID]bool
	err       error
	released  []uuid.UUID
	completed []uuid.UUID
}

func (f *fakeLedger) Claim(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[uuid.UUID]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeLedger) Complete(_ context.Context, _ string, eventID uuid.UUID) error {
	f.completed = append(f.completed, eventID)
	return nil
}

func (f *fakeLedger) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(f.seen, eventID)
	f.released = append(f.released, eventID)
	return nil
}

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type stubReceiver struct{}

func (stubReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error { return nil }

func newTestCodec(t *testing.T) *qrtoken.Codec {
	t.Helper()
	codec, err := qrtoken.NewCodec("https://gate.example.com", config.QRConfig{Size: 300, Quiet: 2, Dark: "#000000", Light: "#FFFFFF"})
	require.NoError(t, err)
	return codec
}

func newTestConsumer(t *testing.T, idem *fakeLedger, sender Sender) *Consumer {
	t.Helper()
	c, err := NewConsumer(stubReceiver{}, idem, newTestCodec(t), sender, logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard}))
	require.NoError(t, err)
	return c
}

func registeredEnvelope(t *testing.T, eventID string, event payloads.VisitorRegisteredEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: event.IssuedAt,
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

func sampleRegistration() payloads.VisitorRegisteredEvent {
	return payloads.VisitorRegisteredEvent{
		VisitorID:     uuid.New(),
		Name:          "Asha Rao",
		Email:         "asha@example.com",
		Phone:         "9999999999",
		VehicleNumber: "MH01AB1234",
		Purpose:       "meeting",
		HostID:        "h1",
		HostName:      "Priya Shah",
		VisitorType:   enums.VisitorTypeVisitor,
		Status:        enums.VisitorStatusCheckedIn,
		FromDate:      "2026-03-02",
		ToDate:        "2026-03-02",
		IssuedAt:      time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
}

func TestConsumerSendsRegistrationEmailOnce(t *testing.T) {
	idem := &fakeLedger{}
	sender := &recordingSender{}
	c := newTestConsumer(t, idem, sender)
	event := sampleRegistration()
	raw := registeredEnvelope(t, uuid.NewString(), event)

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorRegistered), raw)
	assert.Equal(t, metrics.EmailSent, outcome)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "asha@example.com", msg.To)
	assert.Contains(t, msg.HTML, "Asha Rao")
	assert.Contains(t, msg.HTML, "Priya Shah")
	assert.Contains(t, msg.HTML, "https://gate.example.com/checkout/"+event.VisitorID.String())
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "image/png", msg.Attachments[0].ContentType)
	assert.Equal(t, qrtoken.Filename(event.Name, event.VisitorID), msg.Attachments[0].Filename)

	codec := newTestCodec(t)
	expected, err := codec.Issue(event.VisitorID, event.Name, event.IssuedAt)
	require.NoError(t, err)
	assert.Equal(t, expected.PNG, msg.Attachments[0].Data)

	redelivered := c.process(context.Background(), "m-2", string(enums.EventVisitorRegistered), raw)
	assert.Equal(t, metrics.EmailDuplicate, redelivered)
	assert.Len(t, sender.sent, 1)
	assert.Len(t, idem.completed, 1)
}

func TestConsumerSkipsOtherEvents(t *testing.T) {
	sender := &recordingSender{}
	c := newTestConsumer(t, &fakeLedger{}, sender)

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorCheckedOut), []byte(`{}`))
	assert.Empty(t, outcome)
	assert.Empty(t, sender.sent)
}

func TestConsumerAcksMalformedMessages(t *testing.T) {
	sender := &recordingSender{}
	c := newTestConsumer(t, &fakeLedger{}, sender)

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorRegistered), []byte("not-json"))
	assert.Equal(t, metrics.EmailInvalid, outcome)

	badID, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: "nope", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	outcome = c.process(context.Background(), "m-2", string(enums.EventVisitorRegistered), badID)
	assert.Equal(t, metrics.EmailInvalid, outcome)
	assert.Empty(t, sender.sent)
}

func TestConsumerNacksWhenIdempotencyUnavailable(t *testing.T) {
	sender := &recordingSender{}
	c := newTestConsumer(t, &fakeLedger{err: errors.New("redis down")}, sender)
	raw := registeredEnvelope(t, uuid.NewString(), sampleRegistration())

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorRegistered), raw)
	assert.Equal(t, metrics.EmailRequeued, outcome)
	assert.Empty(t, sender.sent)
}

func TestConsumerSendFailureIsLoggedAndAcked(t *testing.T) {
	idem := &fakeLedger{}
	sender := &recordingSender{err: errors.New("relay refused")}
	c := newTestConsumer(t, idem, sender)
	eventID := uuid.New()
	raw := registeredEnvelope(t, eventID.String(), sampleRegistration())

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorRegistered), raw)
	assert.Equal(t, metrics.EmailFailed, outcome)
	assert.Equal(t, []uuid.UUID{eventID}, idem.released)
	assert.Empty(t, idem.completed)
}

func TestConsumerAcksRegistrationWithoutEmail(t *testing.T) {
	sender := &recordingSender{}
	c := newTestConsumer(t, &fakeLedger{}, sender)
	event := sampleRegistration()
	event.Email = ""

	outcome := c.process(context.Background(), "m-1", string(enums.EventVisitorRegistered), registeredEnvelope(t, uuid.NewString(), event))
	assert.NotEqual(t, metrics.EmailRequeued, outcome)
	assert.Empty(t, sender.sent)
}

func TestNewConsumerRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
	_, err := NewConsumer(nil, &fakeLedger{}, newTestCodec(t), &recordingSender{}, logg)
	assert.Error(t, err)
	_, err = NewConsumer(stubReceiver{}, nil, newTestCodec(t), &recordingSender{}, logg)
	assert.Error(t, err)
	_, err = NewConsumer(stubReceiver{}, &fakeLedger{}, newTestCodec(t), nil, logg)
	assert.Error(t, err)
}
