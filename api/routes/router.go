package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/visitorpass-backend/api/controllers"
	"github.com/angelmondragon/visitorpass-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/visitorpass-backend/internal/checkout"
	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/redis"
	"github.com/angelmondragon/visitorpass-backend/pkg/storage/gcs"
)

// Transition POSTs carry no body worth keeping.
const transitionBodyLimit = 64 << 10

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gcsP gcs.Pinger,
	idempotencyStore redis.IdempotencyStore,
	gatherer prometheus.Gatherer,
	visitorService visitors.Service,
	checkoutService checkoutsvc.Service,
	hostService hosts.Service,
	live controllers.LiveDashboard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	idempotent := middleware.Idempotency(idempotencyStore, cfg.Eventing.HTTPIdempotencyTTL, logg)
	registrationLimit := middleware.BodyLimit(controllers.RegistrationBodyLimit(cfg.GCS.MaxPhotoMB))
	transitionLimit := middleware.BodyLimit(transitionBodyLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisP,
			"storage":  gcsP,
		}))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Path embedded in issued QR tokens; keep stable.
	r.Route("/checkout/{visitorId}", func(r chi.Router) {
		r.Get("/", controllers.CheckoutView(checkoutService, logg))
		r.Post("/", controllers.CheckoutRedeem(checkoutService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/visitors", func(r chi.Router) {
			r.With(registrationLimit, idempotent).Post("/", controllers.RegisterVisitor(visitorService, cfg.GCS.MaxPhotoMB, logg))
			r.Route("/{visitorId}", func(r chi.Router) {
				r.Get("/", controllers.GetVisitor(visitorService, logg))
				r.Get("/qr", controllers.VisitorQR(visitorService, logg))
				r.With(transitionLimit, idempotent).Post("/check-in", controllers.CheckInVisitor(visitorService, logg))
				r.With(transitionLimit, idempotent).Post("/checkout", controllers.CheckOutVisitor(checkoutService, logg))
			})
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/resolve", controllers.CheckoutResolve(checkoutService, logg))
			r.Get("/{visitorId}", controllers.CheckoutView(checkoutService, logg))
			r.Post("/{visitorId}", controllers.CheckoutRedeem(checkoutService, logg))
		})

		r.Get("/visit-events", controllers.ListVisitEvents(visitorService, logg))
		r.Get("/dashboard", controllers.Dashboard(live, logg))
		r.Get("/dashboard/stream", controllers.DashboardStream(live, logg))
		r.Get("/hosts", controllers.ListHosts(hostService, logg))
	})

	return r
}
