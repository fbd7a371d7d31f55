package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

const wsPingInterval = 30 * time.Second

// inRangeEvent is pushed to clients whenever the in-range set is recomputed.
type inRangeEvent struct {
	Type   string                  `json:"type"`
	Agents []domain.DistanceSample `json:"agents"`
	At     time.Time               `json:"at"`
}

// WebSocketHandler streams in-range updates from the range service. A
// client that falls behind only receives the newest list.
func WebSocketHandler(ranges *usecases.RangeService, logger *slog.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		log := logger.With("remote", c.RemoteAddr().String())
		log.Info("ws client connected")

		var mu sync.Mutex
		writeJSON := func(v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		pending := make(chan []domain.DistanceSample, 1)
		offer := func(samples []domain.DistanceSample) {
			for {
				select {
				case pending <- samples:
					return
				default:
				}
				select {
				case <-pending:
				default:
				}
			}
		}

		offer(ranges.InRange())
		unsubscribe := ranges.Subscribe(offer)
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case samples := <-pending:
					if samples == nil {
						samples = []domain.DistanceSample{}
					}
					ev := inRangeEvent{Type: "in_range", Agents: samples, At: time.Now().UTC()}
					if err := writeJSON(ev); err != nil {
						log.Debug("ws write failed", "error", err)
						return
					}
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Clients only send control frames; reading detects disconnects.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		log.Info("ws client disconnected")
	}
}
