package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/jdelacruz/ecopoints-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса ecopoints.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/health", h.Health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/api/schedules", func(r chi.Router) {
		r.Get("/", h.ListSchedules)
		r.Get("/next", h.NextSchedule)
	})

	r.Get("/api/rewards", h.ListRewards)

	// Отдача загруженных аватаров по путям, сохранённым в avatar_path
	r.Handle("/avatars/*", http.StripPrefix("/avatars/", http.FileServer(http.Dir(h.avatarsDir))))

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/{userID}", h.GetUser)
		r.Patch("/profile/{userID}", h.UpdateProfile)
		r.Patch("/password/{userID}", h.ChangePassword)
		r.Post("/avatar", h.UploadAvatar)

		r.Get("/transactions/{userID}", h.UserTransactions)
		r.Get("/redemptions/{userID}", h.UserRedemptions)
		r.Post("/redeem", h.Redeem)

		r.Get("/payout-methods/{userID}", h.UserPayoutMethods)
		r.Post("/payout-methods", h.AddPayoutMethod)
		r.Patch("/payout-methods/{id}/default", h.SetDefaultPayoutMethod)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/users", h.SearchUsers)
		r.Patch("/users/{id}", h.AdminAdjustUser)

		r.Post("/transactions", h.RecordEarn)
		r.Get("/transactions", h.AllTransactions)

		r.Get("/redemptions", h.AllRedemptions)
		r.Patch("/redemptions/{id}", h.SetRedemptionStatus)

		r.Post("/schedules", h.CreateSchedule)
		r.Put("/schedules/{id}", h.UpdateSchedule)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
