package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket pushes a status frame every second until the client goes away.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		frame := gin.H{"timestamp": time.Now().UTC()}
		if s.Safety != nil {
			frame["safety"] = s.Safety.Snapshot()
		}
		if s.Engine != nil {
			frame["open_shadows"] = s.Engine.Shadows().Count()
			frame["risk_cycles"] = s.Engine.Cycles()
		}
		if s.Alerts != nil {
			frame["alerts"] = s.Alerts.Recent(10)
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}
