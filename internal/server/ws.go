package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const closeGracePeriod = time.Second

func registerWSRoute(mux *http.ServeMux, manager SessionManager) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ticketID := r.URL.Query().Get("ticket")
		projectID := r.URL.Query().Get("project_id")
		ip := clientIP(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		sess, err := manager.AuthenticateAndCreate(ticketID, ip, projectID, conn)
		if err != nil {
			// One generic reason for every failure mode so the close frame
			// leaks nothing about why the ticket was refused.
			log.Printf("ws attach refused (ip %s): %v", ip, err)
			closePolicyViolation(conn)
			return
		}
		defer manager.Teardown(sess.ID)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			manager.Route(sess.ID, raw)
		}
	})
}

func closePolicyViolation(conn *websocket.Conn) {
	frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "policy violation")
	deadline := time.Now().Add(closeGracePeriod)
	_ = conn.WriteControl(websocket.CloseMessage, frame, deadline)
	_ = conn.Close()
}
