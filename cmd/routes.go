package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"motopay/internal/models"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	optionalMiddleware := standardMiddleware.Append(app.optionalAuth)
	authMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole())
	agentMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole(models.RoleAgent))
	adminMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole(models.RoleAdmin, models.RoleSuperAdmin))

	mux := pat.New()

	// Payments
	mux.Post("/api/v1/payments/initialize", optionalMiddleware.ThenFunc(app.paymentHandler.Initialize))
	mux.Post("/api/v1/payments/verify/:reference", standardMiddleware.ThenFunc(app.paymentHandler.Verify))
	mux.Post("/api/v1/payments/webhook", standardMiddleware.ThenFunc(app.paymentHandler.Webhook))
	mux.Get("/api/v1/payments/transaction/:id", authMiddleware.ThenFunc(app.paymentHandler.GetTransaction))
	mux.Post("/api/v1/payments/refund/:id", adminMiddleware.ThenFunc(app.paymentHandler.Refund))
	mux.Get("/ws/payments/:reference", alice.New(app.recoverPanic, app.logRequest).ThenFunc(app.paymentHandler.Subscribe))

	// Vehicles
	mux.Post("/api/v1/vehicles/lookup", optionalMiddleware.ThenFunc(app.vehicleHandler.Lookup))
	mux.Post("/api/v1/vehicles/register", authMiddleware.ThenFunc(app.vehicleHandler.Register))
	mux.Get("/api/v1/vehicles/:id/compliance", optionalMiddleware.ThenFunc(app.vehicleHandler.Compliance))
	mux.Get("/api/v1/vehicles/:id/history", authMiddleware.ThenFunc(app.vehicleHandler.History))
	mux.Get("/api/v1/vehicles/:id/recommendations", optionalMiddleware.ThenFunc(app.vehicleHandler.Recommendations))
	mux.Get("/api/v1/vehicles/:id", optionalMiddleware.ThenFunc(app.vehicleHandler.Get))
	mux.Put("/api/v1/vehicles/:id", authMiddleware.ThenFunc(app.vehicleHandler.Update))

	// Compliance catalog
	mux.Get("/api/v1/compliance/items", standardMiddleware.ThenFunc(app.complianceHandler.ListItems))
	mux.Get("/api/v1/compliance/items/:id/history", adminMiddleware.ThenFunc(app.complianceHandler.PriceHistory))
	mux.Get("/api/v1/compliance/items/:id", standardMiddleware.ThenFunc(app.complianceHandler.GetItem))
	mux.Put("/api/v1/compliance/items/:id/price", adminMiddleware.ThenFunc(app.complianceHandler.UpdatePrice))
	mux.Get("/api/v1/compliance/vehicles/:id/requirements", optionalMiddleware.ThenFunc(app.complianceHandler.Requirements))

	// Agents
	mux.Get("/api/v1/agent/commissions", agentMiddleware.ThenFunc(app.agentHandler.Commissions))
	mux.Get("/api/v1/agent/transactions", agentMiddleware.ThenFunc(app.agentHandler.Transactions))
	mux.Get("/api/v1/agent/summary", agentMiddleware.ThenFunc(app.agentHandler.Summary))
	mux.Post("/api/v1/admin/commissions/:id/pay", adminMiddleware.ThenFunc(app.agentHandler.PayCommission))

	// Devices
	mux.Post("/api/v1/devices", authMiddleware.ThenFunc(app.deviceHandler.Register))
	mux.Del("/api/v1/devices/:token", authMiddleware.ThenFunc(app.deviceHandler.Delete))

	mux.Get("/healthz", http.HandlerFunc(app.health))

	return mux
}

func (app *application) health(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
