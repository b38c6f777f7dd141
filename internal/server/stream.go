package server

import (
	"time"

	"stereo-calib/internal/capture"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// broadcast runs on the runner goroutine and must not block.
func (s *Server) broadcast(e capture.Event) {
	msg := StreamMessage{Type: "event", Event: e.Type.String(), Status: s.ctl.Status()}
	if e.Type == capture.EventSampleAccepted || e.Type == capture.EventSolveFailed {
		msg.Side = e.Side.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *Server) subscribe() chan StreamMessage {
	ch := make(chan StreamMessage, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan StreamMessage) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// stream upgrades to a websocket and pushes status until the client leaves.
func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Reader: only used to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	send := func(msg StreamMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logrus.WithError(err).Debug("websocket client dropped")
			return false
		}
		return true
	}

	if !send(StreamMessage{Type: "status", Status: s.ctl.Status()}) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-ch:
			if !send(msg) {
				return
			}
		case <-ticker.C:
			if !send(StreamMessage{Type: "status", Status: s.ctl.Status()}) {
				return
			}
		}
	}
}
