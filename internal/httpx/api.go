package httpx

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/availability"
	"github.com/ariefcatur/go-rifa/internal/draw"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/reconcile"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"net/http"
)

// StatusCache caches rendered reservation status bodies.
type StatusCache interface {
	Get(ctx context.Context, ref string) ([]byte, bool)
	Set(ctx context.Context, ref string, body []byte)
}

type API struct {
	Store        rifa.Store
	Reconciler   *reconcile.Engine
	Availability *availability.Service
	Draws        *draw.Engine
	StatusCache  StatusCache      // optional
	Sandbox      *payment.Sandbox // set only with the sandbox provider
	Limiter      *RateLimiter     // optional
	Log          *logrus.Entry

	AdminUser     string
	AdminPassword string
}

func (a *API) Register(r chi.Router) {
	r.Post("/checkout", a.createCheckout)
	r.Get("/checkout/{reference}", a.getCheckout)
	r.Post("/webhooks/payments", a.paymentWebhook)

	r.Get("/raffles", a.listRaffles)
	r.Get("/raffles/{id}", a.getRaffle)
	r.Get("/raffles/{id}/available", a.available)
	r.Post("/raffles/{id}/quick-pick", a.quickPick)

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.adminAuth)
		r.Post("/raffles", a.createRaffle)
		r.Post("/raffles/{id}/close", a.closeRaffle)
		r.Post("/raffles/{id}/draw", a.drawRaffle)
		r.Get("/raffles/{id}/entries", a.listEntries)
		r.Get("/reservations/pending", a.stalePending)
		r.Get("/reservations/{reference}/audit", a.auditTrail)
		r.Post("/reservations/{reference}/reconcile", a.redrive)
	})

	if a.Sandbox != nil {
		r.Post("/sandbox/payments", a.sandboxPayment)
	}
}

func (a *API) adminAuth(next http.Handler) http.Handler {
	if a.AdminPassword == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin access disabled"})
		})
	}
	return middleware.BasicAuth("rifa-admin", map[string]string{a.AdminUser: a.AdminPassword})(next)
}
