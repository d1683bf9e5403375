package hub

import (
	"context"
	"log"
	"net/http"

	"pawmart/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Origins are checked by the CORS layer in front of the router.
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// WebSocketHandler upgrades an authenticated request and registers the
// connection under the caller's user id.
func WebSocketHandler(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID := utils.GetUserIDFromRequest(r)
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade:", err)
			return
		}
		client := NewClient(h, conn, userID)
		if !h.Register(client) {
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	}
}

// HistoryHandler serves GET /api/messages?user1=&user2= for one of the
// two participants.
func HistoryHandler(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID := utils.GetUserIDFromRequest(r)
		if userID == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		q := r.URL.Query()
		user1, user2 := q.Get("user1"), q.Get("user2")
		if user1 == "" || user2 == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "user1 and user2 are required")
			return
		}
		if userID != user1 && userID != user2 {
			utils.RespondWithError(w, http.StatusForbidden, "not a participant")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		msgs, err := h.store.Conversation(ctx, user1, user2)
		if err != nil {
			log.Printf("hub: history %s/%s: %v", user1, user2, err)
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		utils.RespondWithData(w, http.StatusOK, msgs)
	}
}
