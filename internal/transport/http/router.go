package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"stream-billing/internal/config"
	"stream-billing/internal/ledger"
	"stream-billing/internal/pricing"
	"stream-billing/internal/purchase"
	"stream-billing/internal/room"
	"stream-billing/internal/session"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Services are the engine components the HTTP surface drives.
type Services struct {
	DB        Pinger
	Ledger    *ledger.Ledger
	Sessions  *session.Manager
	Rooms     *room.Machine
	Pricing   *pricing.Admin
	Purchases *purchase.Reconciler
}

func NewRouter(svc Services, cfg config.ServerConfig) *chi.Mux {
	sessionHandlers := NewSessionHandlers(svc.Sessions)
	walletHandlers := NewWalletHandlers(svc.Ledger)
	purchaseHandlers := NewPurchaseHandlers(svc.Purchases)
	adminHandlers := NewAdminHandlers(svc.DB, svc.Pricing, svc.Rooms)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/sessions", sessionHandlers.Start())
		r.Get("/sessions/{session_id}", sessionHandlers.Get())
		r.Post("/sessions/{session_id}/end", sessionHandlers.End())
		r.Post("/sessions/{session_id}/attendances", sessionHandlers.Enter())
		r.Post("/attendances/{attendance_id}/exit", sessionHandlers.Exit())

		r.Get("/wallets/{account_id}", walletHandlers.Get())

		r.Post("/purchases", purchaseHandlers.Create())
		r.Get("/purchases/{purchase_id}", purchaseHandlers.Get())
		r.Post("/purchases/events", purchaseHandlers.Event())

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Get("/debug/vars", expvar.Handler().ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(BodyCaptureMiddleware(4096))
				r.Put("/cam2cam/pricing", adminHandlers.UpdateCam2CamPricing())
				r.Get("/cam2cam/rooms", adminHandlers.ListCam2CamRooms())

				r.Get("/pyramid/rooms", adminHandlers.ListPyramidRooms())
				r.Post("/pyramid/rooms", adminHandlers.CreatePyramidRoom())
				r.Patch("/pyramid/rooms/{room_id}", adminHandlers.UpdatePyramidRoom())
				r.Delete("/pyramid/rooms/{room_id}", adminHandlers.DeletePyramidRoom())
				r.Post("/pyramid/rooms/{room_id}/activate", adminHandlers.ActivatePyramidRoom())
				r.Post("/pyramid/rooms/{room_id}/deactivate", adminHandlers.DeactivatePyramidRoom())

				r.Post("/attendances/{attendance_id}/kick", sessionHandlers.Kick())
				r.Post("/wallets/{account_id}/clear-halt", walletHandlers.ClearHalt())
				r.Post("/purchases/{purchase_id}/retry-deficit", purchaseHandlers.RetryDeficit())
				r.Get("/ledger", walletHandlers.Ledger())
			})
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
