package controllers

import (
	"net/http"
	"strconv"

	"github.com/angelmondragon/visitorpass-backend/api/middleware"
	"github.com/angelmondragon/visitorpass-backend/api/responses"
	"github.com/angelmondragon/visitorpass-backend/api/validators"
	"github.com/angelmondragon/visitorpass-backend/internal/checkout"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/types"
)

// Headroom for the base64 expansion of the photo plus the text fields.
const registrationBodyOverheadBytes = 1 << 20

type registerVisitorRequest struct {
	Name               string     `json:"name" validate:"max=120"`
	Phone              string     `json:"phone" validate:"max=20"`
	Email              string     `json:"email" validate:"omitempty,email,max=254"`
	VehicleNumber      string     `json:"vehicleNumber" validate:"max=20"`
	Photo              string     `json:"photo"`
	Purpose            string     `json:"purpose" validate:"max=500"`
	Host               string     `json:"host" validate:"max=64"`
	CompanyName        string     `json:"companyName" validate:"max=200"`
	CompanyAddress     string     `json:"companyAddress" validate:"max=500"`
	PhotoIDType        string     `json:"photoIdType" validate:"max=50"`
	PhotoIDNumber      string     `json:"photoIdNumber" validate:"max=50"`
	FromDate           types.Date `json:"fromDate"`
	ToDate             types.Date `json:"toDate"`
	SingleDay          bool       `json:"singleDay"`
	VisitorType        string     `json:"visitorType" validate:"omitempty,oneof=visitor employee"`
	Assets             []string   `json:"assets" validate:"max=20,dive,max=60"`
	SpecialPermissions []string   `json:"specialPermissions" validate:"max=20,dive,max=60"`
	Creche             string     `json:"creche" validate:"omitempty,oneof=yes no"`
	Remarks            string     `json:"remarks" validate:"max=1000"`
	CheckIn            *bool      `json:"checkIn"`
}

func (b registerVisitorRequest) toInput(requestID string) visitors.RegisterInput {
	return visitors.RegisterInput{
		Name:               b.Name,
		Phone:              b.Phone,
		Email:              b.Email,
		VehicleNumber:      b.VehicleNumber,
		Photo:              b.Photo,
		Purpose:            b.Purpose,
		HostID:             b.Host,
		CompanyName:        b.CompanyName,
		CompanyAddress:     b.CompanyAddress,
		PhotoIDType:        b.PhotoIDType,
		PhotoIDNumber:      b.PhotoIDNumber,
		FromDate:           b.FromDate,
		ToDate:             b.ToDate,
		SingleDay:          b.SingleDay,
		VisitorType:        b.VisitorType,
		Assets:             b.Assets,
		SpecialPermissions: b.SpecialPermissions,
		Creche:             b.Creche,
		Remarks:            b.Remarks,
		CheckIn:            b.CheckIn,
		RequestID:          requestID,
	}
}

// RegistrationBodyLimit is the largest registration body accepted for a photo
// of up to maxPhotoMB megabytes.
func RegistrationBodyLimit(maxPhotoMB int) int64 {
	return int64(maxPhotoMB)*(1<<20)*4/3 + registrationBodyOverheadBytes
}

// RegisterVisitor creates a visitor and returns the record, host and QR token.
func RegisterVisitor(svc visitors.Service, maxPhotoMB int, logg *logger.Logger) http.HandlerFunc {
	limit := RegistrationBodyLimit(maxPhotoMB)
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "visitor service unavailable"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		var body registerVisitorRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Register(r.Context(), body.toInput(middleware.RequestIDFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func GetVisitor(svc visitors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "visitorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		visitor, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, visitor)
	}
}

// CheckInVisitor admits a registered visitor.
func CheckInVisitor(svc visitors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "visitorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		visitor, err := svc.CheckIn(r.Context(), id, actorFor(r, outbox.ActorOperator))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, visitor)
	}
}

// CheckOutVisitor is the dashboard checkout action.
func CheckOutVisitor(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return redeem(svc, outbox.ActorOperator, logg)
}

// VisitorQR re-renders the visitor's QR token as a PNG download.
func VisitorQR(svc visitors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "visitorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := svc.IssueToken(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", `attachment; filename="`+token.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(token.PNG)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(token.PNG); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "qr download interrupted")
		}
	}
}

// ListVisitEvents returns the event log newest first.
func ListVisitEvents(svc visitors.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.ListEvents(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
		responses.WriteSuccess(w, map[string]any{"events": events})
	}
}

func actorFor(r *http.Request, kind string) outbox.ActorRef {
	return outbox.ActorRef{Kind: kind, RequestID: middleware.RequestIDFromContext(r.Context())}
}
