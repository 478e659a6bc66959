package controllers

import (
	"net/http"

	"github.com/angelmondragon/visitorpass-backend/api/responses"
	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// ListHosts returns the host directory for the registration form.
func ListHosts(svc hosts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "host directory unavailable"))
			return
		}
		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"hosts": list})
	}
}
