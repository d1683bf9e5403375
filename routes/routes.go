package routes

import (
	"fmt"
	"net/http"

	"pawmart/hub"
	"pawmart/metrics"
	"pawmart/middleware"
	"pawmart/ratelim"

	"github.com/julienschmidt/httprouter"
)

func AddChatRoutes(router *httprouter.Router, h *hub.Hub, rateLimiter *ratelim.RateLimiter, m *metrics.ServerMetrics) {
	router.GET("/ws", middleware.Authenticate(hub.WebSocketHandler(h)))
	router.GET("/api/messages", m.Instrument("history", middleware.Authenticate(rateLimiter.Limit(hub.HistoryHandler(h)))))
}

func AddUtilityRoutes(router *httprouter.Router) {
	router.GET("/health", Index)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}
