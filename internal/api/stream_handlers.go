package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/scribehub/recordcache/internal/cache"
)

const keepAliveInterval = 30 * time.Second

func setStreamHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")
}

// writeEvent sends one SSE data message and flushes it. An error means the
// client went away.
func writeEvent(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// handleListStream handles GET /records/live. The list entry is observed for
// as long as the client stays connected, so adaptive refetching keeps it
// current and every change is pushed.
func (s *Server) handleListStream(c *fiber.Ctx) error {
	f, err := validateFilters(listFiltersFromQuery(c))
	if err != nil {
		return RespondAppError(c, err)
	}

	setStreamHeaders(c)
	logger := s.logger.With("stream", "records")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		updates := make(chan cache.Entry, 16)
		sub, err := s.collection.List(context.Background(), f, func(e cache.Entry) {
			select {
			case updates <- e:
			default:
				logger.Debug("Dropping list update for slow client", "key", e.Key.String())
			}
		})
		if err != nil {
			_ = writeEvent(w, EntryEvent{Type: "error", Data: err.Error()})
			return
		}
		defer sub.Unsubscribe()

		e := sub.Entry()
		if err := writeEvent(w, EntryEvent{Type: "initial", Data: e.Data, Meta: newCacheMeta(e)}); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case e := <-updates:
				if err := writeEvent(w, EntryEvent{Type: "update", Data: e.Data, Meta: newCacheMeta(e)}); err != nil {
					logger.Debug("List stream closed", "error", err)
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// handleProgressStream handles GET /exports/progress/stream
func (s *Server) handleProgressStream(c *fiber.Ctx) error {
	broadcaster := s.collection.Progress()
	setStreamHeaders(c)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		subID, ch := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(subID)

		if err := writeEvent(w, map[string]any{"type": "initial", "data": broadcaster.All()}); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(w, map[string]any{"type": "update", "data": update}); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					return
				}
			}
		}
	})

	return nil
}
