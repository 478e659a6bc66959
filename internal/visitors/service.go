package visitors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	"github.com/angelmondragon/visitorpass-backend/internal/photos"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/visitorpass-backend/pkg/types"
)

// Change operations announced after a commit.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type visitorReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Visitor, error)
	ListEvents(ctx context.Context) ([]models.VisitEvent, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type hostDirectory interface {
	Lookup(ctx context.Context, id string) (*hosts.HostDTO, error)
}

type tokenIssuer interface {
	Issue(visitorID uuid.UUID, visitorName string, issuedAt time.Time) (*qrtoken.Token, error)
	CheckoutURL(visitorID uuid.UUID) string
}

// ChangeNotifier announces committed visitor changes to live dashboards.
type ChangeNotifier interface {
	Notify(ctx context.Context, op string, visitorID uuid.UUID) error
}

// Service owns every visitor state change.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*RegistrationResult, error)
	Get(ctx context.Context, id uuid.UUID) (*VisitorDTO, error)
	CheckIn(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*VisitorDTO, error)
	CheckOut(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*VisitorDTO, error)
	IssueToken(ctx context.Context, id uuid.UUID) (*qrtoken.Token, error)
	ListEvents(ctx context.Context) ([]VisitEventDTO, error)
}

// ServiceParams wires the visitor service.
type ServiceParams struct {
	TxRunner txRunner
	Reader   visitorReader
	Outbox   outboxEmitter
	Hosts    hostDirectory
	Photos   photos.Service
	Tokens   tokenIssuer
	Notifier ChangeNotifier
	Metrics  *metrics.VisitorMetrics
	Logger   *logger.Logger
	Config   config.CheckoutConfig
}

type service struct {
	tx       txRunner
	reader   visitorReader
	outbox   outboxEmitter
	hosts    hostDirectory
	photos   photos.Service
	tokens   tokenIssuer
	notifier ChangeNotifier
	metrics  *metrics.VisitorMetrics
	logg     *logger.Logger
	plates   *PlateValidator
	loc      *time.Location
	checkIn  bool
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("visitor reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Hosts == nil {
		return nil, fmt.Errorf("host directory required")
	}
	if params.Photos == nil {
		return nil, fmt.Errorf("photo service required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token issuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	plates, err := NewPlateValidator(params.Config.PlatePattern)
	if err != nil {
		return nil, err
	}
	loc, err := params.Config.Location()
	if err != nil {
		return nil, fmt.Errorf("load time zone: %w", err)
	}
	return &service{
		tx:       params.TxRunner,
		reader:   params.Reader,
		outbox:   params.Outbox,
		hosts:    params.Hosts,
		photos:   params.Photos,
		tokens:   params.Tokens,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		plates:   plates,
		loc:      loc,
		checkIn:  params.Config.ImmediateCheckIn,
		now:      time.Now,
	}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*RegistrationResult, error) {
	now := s.clock()
	visitor, err := s.buildVisitor(input, now)
	if err != nil {
		s.metrics.IncRegistration("rejected")
		return nil, err
	}

	img, err := s.photos.Decode(input.Photo)
	if err != nil {
		s.metrics.IncRegistration("rejected")
		return nil, err
	}

	host, err := s.hosts.Lookup(ctx, visitor.HostID)
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		s.metrics.IncRegistration("rejected")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown host").
			WithDetails(map[string]any{"field": "host", "host": visitor.HostID})
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		s.metrics.IncRegistration("rejected")
		return nil, err
	default:
		s.logg.Warn(s.logg.WithField(ctx, "host_id", visitor.HostID), "host lookup failed, continuing without host")
		host = nil
	}

	photoFailed := false
	stored, err := s.photos.Upload(ctx, img)
	if err != nil {
		photoFailed = true
		s.metrics.IncPhotoFailure()
		s.logg.Error(ctx, "photo upload failed, registering without photo", err)
	} else {
		visitor.PhotoURL = &stored.URL
	}

	checkIn := s.checkIn
	if input.CheckIn != nil {
		checkIn = *input.CheckIn
	}
	actor := &outbox.ActorRef{Kind: outbox.ActorKiosk, RequestID: input.RequestID}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if err := repo.Create(ctx, visitor); err != nil {
			return err
		}
		if checkIn {
			if err := s.applyTransition(ctx, tx, repo, visitor, enums.VisitorStatusCheckedIn, now, actor); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVisitorRegistered,
			AggregateType: enums.AggregateVisitor,
			AggregateID:   visitor.ID,
			Actor:         actor,
			Data:          s.registeredPayload(visitor, host),
			OccurredAt:    now,
		})
	})
	if err != nil {
		s.metrics.IncRegistration("failed")
		if stored != nil {
			if discardErr := s.photos.Discard(ctx, stored); discardErr != nil {
				s.logg.Error(s.logg.WithField(ctx, "object", stored.Object), "failed to discard orphaned photo", discardErr)
			}
		}
		return nil, classify(err, "register visitor")
	}
	s.metrics.IncRegistration("created")

	logCtx := s.logg.WithVisitorID(ctx, visitor.ID.String())
	s.logg.Info(logCtx, "visitor registered")
	s.announce(logCtx, ChangeInsert, visitor.ID)

	token, err := s.tokens.Issue(visitor.ID, visitor.Name, visitor.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &RegistrationResult{
		Visitor:           *FromModel(visitor),
		Host:              host,
		QR:                token,
		PhotoUploadFailed: photoFailed,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*VisitorDTO, error) {
	visitor, err := s.reader.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "load visitor")
	}
	return FromModel(visitor), nil
}

// CheckIn admits a registered visitor.
func (s *service) CheckIn(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*VisitorDTO, error) {
	return s.transition(ctx, id, enums.VisitorStatusCheckedIn, actor)
}

// CheckOut ends a visit. Only checked_in visitors can be checked out; any
// other status yields INVALID_TRANSITION and leaves the record untouched.
func (s *service) CheckOut(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*VisitorDTO, error) {
	return s.transition(ctx, id, enums.VisitorStatusCheckedOut, actor)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, to enums.VisitorStatus, actor outbox.ActorRef) (*VisitorDTO, error) {
	now := s.clock()
	var updated *models.Visitor
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		current, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, repo, current, to, now, &actor); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, classify(err, "update visitor status")
	}

	logCtx := s.logg.WithFields(s.logg.WithVisitorID(ctx, id.String()), map[string]any{"status": to})
	s.logg.Info(logCtx, "visitor status changed")
	s.announce(logCtx, ChangeUpdate, id)
	return FromModel(updated), nil
}

// applyTransition validates and performs one state change inside tx, appends
// the matching visit event and queues the domain event. visitor is updated in
// place on success.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, repo *Repository, visitor *models.Visitor, to enums.VisitorStatus, at time.Time, actor *outbox.ActorRef) error {
	from := visitor.Status
	if err := ValidateTransition(from, to); err != nil {
		return err
	}

	ok, err := repo.Transition(ctx, visitor.ID, from, to, at)
	if err != nil {
		return err
	}
	if !ok {
		latest, err := repo.FindByID(ctx, visitor.ID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(latest.Status, to); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "visitor changed concurrently, please retry")
	}

	action, _ := enums.ActionFor(to)
	eventType, _ := enums.EventForStatus(to)
	visitor.Status = to
	visitor.UpdatedAt = at
	var data any
	switch to {
	case enums.VisitorStatusCheckedIn:
		visitor.CheckInTime = &at
		data = payloads.VisitorCheckedInEvent{VisitorID: visitor.ID, CheckInTime: at}
	case enums.VisitorStatusCheckedOut:
		visitor.CheckOutTime = &at
		data = payloads.VisitorCheckedOutEvent{VisitorID: visitor.ID, CheckInTime: visitor.CheckInTime, CheckOutTime: at}
	}

	if _, err := repo.AppendEvent(ctx, visitor.ID, action, at); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateVisitor,
		AggregateID:   visitor.ID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    at,
	})
}

// IssueToken re-renders a visitor's QR token from its registration time.
func (s *service) IssueToken(ctx context.Context, id uuid.UUID) (*qrtoken.Token, error) {
	visitor, err := s.reader.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "load visitor")
	}
	return s.tokens.Issue(visitor.ID, visitor.Name, visitor.CreatedAt)
}

func (s *service) ListEvents(ctx context.Context) ([]VisitEventDTO, error) {
	events, err := s.reader.ListEvents(ctx)
	if err != nil {
		return nil, classify(err, "list visit events")
	}
	return EventsFromModels(events), nil
}

func (s *service) buildVisitor(input RegisterInput, now time.Time) (*models.Visitor, error) {
	name := strings.TrimSpace(input.Name)
	phone := strings.TrimSpace(input.Phone)
	email := strings.TrimSpace(input.Email)
	purpose := strings.TrimSpace(input.Purpose)
	hostID := strings.TrimSpace(input.HostID)
	vehicle := NormalizeVehicle(input.VehicleNumber)

	var missing []string
	for field, value := range map[string]string{
		"name":          name,
		"phone":         phone,
		"email":         email,
		"purpose":       purpose,
		"host":          hostID,
		"vehicleNumber": vehicle,
		"photo":         strings.TrimSpace(input.Photo),
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "required fields missing").
			WithDetails(map[string]any{"missing": missing})
	}
	if !strings.Contains(email, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid email").
			WithDetails(map[string]any{"field": "email"})
	}
	if !s.plates.Valid(vehicle) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vehicle number does not match the required format").
			WithDetails(map[string]any{"field": "vehicleNumber", "value": vehicle})
	}

	visitorType, err := enums.ParseVisitorType(input.VisitorType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid visitor type").
			WithDetails(map[string]any{"field": "visitorType"})
	}
	creche, err := enums.ParseCrecheFlag(input.Creche)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid creche flag").
			WithDetails(map[string]any{"field": "creche"})
	}

	from := input.FromDate
	if from.IsZero() {
		local := now.In(s.loc)
		from = types.NewDate(local.Year(), local.Month(), local.Day())
	}
	to := input.ToDate
	if input.SingleDay || to.IsZero() {
		to = from
	}
	if to.Before(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "to date must not be before from date").
			WithDetails(map[string]any{"field": "toDate", "fromDate": from.String(), "toDate": to.String()})
	}

	return &models.Visitor{
		ID:                 uuid.New(),
		Name:               name,
		Phone:              phone,
		Email:              email,
		VehicleNumber:      vehicle,
		Purpose:            purpose,
		HostID:             hostID,
		CompanyName:        strings.TrimSpace(input.CompanyName),
		CompanyAddress:     strings.TrimSpace(input.CompanyAddress),
		PhotoIDType:        strings.TrimSpace(input.PhotoIDType),
		PhotoIDNumber:      strings.TrimSpace(input.PhotoIDNumber),
		FromDate:           from.Time,
		ToDate:             to.Time,
		VisitorType:        visitorType,
		Assets:             datatypes.JSONSlice[string](uniqueStrings(input.Assets)),
		SpecialPermissions: datatypes.JSONSlice[string](uniqueStrings(input.SpecialPermissions)),
		Creche:             creche,
		Remarks:            strings.TrimSpace(input.Remarks),
		Status:             enums.VisitorStatusRegistered,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *service) registeredPayload(visitor *models.Visitor, host *hosts.HostDTO) payloads.VisitorRegisteredEvent {
	event := payloads.VisitorRegisteredEvent{
		VisitorID:     visitor.ID,
		Name:          visitor.Name,
		Email:         visitor.Email,
		Phone:         visitor.Phone,
		VehicleNumber: visitor.VehicleNumber,
		Purpose:       visitor.Purpose,
		HostID:        visitor.HostID,
		VisitorType:   visitor.VisitorType,
		Status:        visitor.Status,
		FromDate:      visitor.FromDate.Format(types.DateLayout),
		ToDate:        visitor.ToDate.Format(types.DateLayout),
		CheckoutURL:   s.tokens.CheckoutURL(visitor.ID),
		IssuedAt:      visitor.CreatedAt,
	}
	if host != nil {
		event.HostName = host.Name
		event.HostEmail = host.Email
	}
	return event
}

// announce publishes a change notification. Failures only delay dashboards.
func (s *service) announce(ctx context.Context, op string, id uuid.UUID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, op, id); err != nil {
		s.logg.Error(ctx, "failed to publish visitor change", err)
	}
}

// clock truncates to microseconds so values survive a Postgres round trip.
func (s *service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func classify(err error, action string) error {
	return pkgerrors.FromStore(err, action, "visitor not found")
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
