package routes

import (
	"pawmart/hub"
	"pawmart/metrics"
	"pawmart/ratelim"

	"github.com/julienschmidt/httprouter"
)

func RoutesWrapper(router *httprouter.Router, h *hub.Hub, rateLimiter *ratelim.RateLimiter, m *metrics.ServerMetrics) {
	AddChatRoutes(router, h, rateLimiter, m)
	AddUtilityRoutes(router)
}
