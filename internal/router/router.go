package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/handler"
	"github.com/iliyamo/animal-market/internal/middleware"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Session *handler.SessionHandler
	Order   *handler.OrderHandler
	Webhook *handler.WebhookHandler
	Stream  *handler.StreamHandler
	Admin   *handler.AdminHandler
}

// RegisterRoutes wires the full route table. Public reads and the
// provider webhook carry no JWT (the webhook authenticates with its
// payload signature instead); buyer routes require a valid access token;
// admin routes additionally require the ADMIN role. rateLimit is applied
// to order creation only, the one route worth protecting from a single
// client hammering a popular session.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret string, rateLimit echo.MiddlewareFunc) {
	// Health check for load balancers and monitoring.
	e.GET("/healthz", handler.Health)

	// Public read side: current session and capacity snapshots.
	e.GET("/v1/sessions/current", h.Session.GetCurrent)
	e.GET("/v1/sessions/:id/capacity", h.Session.GetCapacity)

	// The provider posts settlement notifications here; the payload
	// signature is the authentication.
	e.POST("/v1/payment/notify", h.Webhook.Notify)

	// Global configuration broadcast stream.
	e.GET("/v1/stream/config", h.Stream.ConfigStream)

	// Buyer routes. JWTAuth extracts user_id/role; both buyer and admin
	// tokens are accepted here.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("BUYER", "ADMIN"))
	auth.POST("/orders", h.Order.Create, rateLimit)
	auth.DELETE("/orders/:id", h.Order.Cancel)
	auth.GET("/orders/:id", h.Order.Get)
	auth.GET("/orders/:id/stream", h.Stream.OrderStream)
	auth.GET("/my-orders", h.Order.List)

	// Operator surface: session resolution and capacity bans.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole("ADMIN"))
	admin.POST("/sessions/:id/resolve", h.Admin.ResolveSession)
	admin.POST("/capacity/ban", h.Admin.SetBan)
}
