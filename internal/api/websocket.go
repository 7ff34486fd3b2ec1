package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mirror-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedTopics are the bus topics mirrored onto websocket clients.
var streamedTopics = []events.Topic{
	events.TopicExchangeInitialized,
	events.TopicExchangeTerminated,
	events.TopicOrderBulkUpdated,
	events.TopicPositionBulkUpdated,
	events.TopicWalletBulkUpdated,
	events.TopicMarketBulkUpdated,
	events.TopicTickerUpdated,
	events.TopicExecutionReceived,
}

type wsEvent struct {
	Topic   events.Topic `json:"topic"`
	Payload any          `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	merged := make(chan wsEvent, 256)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range streamedTopics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Topic, stream <-chan any) {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsEvent{Topic: topic, Payload: msg}:
					case <-done:
						return
					}
				}
			}
		}(topic, stream)
	}

	for ev := range merged {
		if err := conn.WriteJSON(ev); err != nil {
			s.Log.Debug("ws write failed", zap.Error(err))
			return
		}
	}
}
