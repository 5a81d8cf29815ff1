package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/coderoom/internal/collab"
	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleRealtime upgrades the request and joins the socket to the room channel
// named by the channel query parameter.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	channel := c.Query(realtime.ChannelQueryParameter)
	roomID, err := collab.RoomFromChannel(channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_channel"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("channel", channel), zap.Error(err))
		return
	}

	if err := realtime.ServePeer(c.Request.Context(), conn, realtime.PeerConfig{
		Broker:   h.broker,
		Channel:  channel,
		Logger:   h.logger.With(zap.String("room_id", roomID.String())),
		Identify: collab.IdentifySender,
		Farewell: collab.DepartureNotice,
	}); err != nil {
		h.logger.Warn("realtime peer failed", zap.String("channel", channel), zap.Error(err))
	}
}
