package controllers

import (
	"net/http"

	"github.com/angelmondragon/visitorpass-backend/api/responses"
	"github.com/angelmondragon/visitorpass-backend/api/validators"
	"github.com/angelmondragon/visitorpass-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

type resolveRequest struct {
	Scanned string `json:"scanned" validate:"required,max=2048"`
}

// CheckoutView shows the visitor behind a checkout link before redemption.
func CheckoutView(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "visitorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.View(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CheckoutRedeem checks a visitor out from the scanned link.
func CheckoutRedeem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return redeem(svc, outbox.ActorVisitor, logg)
}

// CheckoutResolve maps a scanned QR payload or URL to its visitor.
func CheckoutResolve(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		var body resolveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Resolve(r.Context(), body.Scanned)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func redeem(svc checkout.Service, actorKind string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "visitorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithVisitorID(ctx, id.String())
		}
		result, err := svc.Redeem(ctx, id, actorFor(r, actorKind))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
