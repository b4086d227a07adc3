// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/store"
	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// RunRequest is the body of POST /v1/research/run.
type RunRequest struct {
	// Question is the research question. Required.
	Question string `json:"question" binding:"required"`

	// Config optionally overrides the server's default research config.
	// It is merged over defaults exactly like a config file.
	Config map[string]any `json:"config,omitempty"`

	// Context seeds the run with prior signals and evidence.
	Context agent.ResearchContext `json:"context,omitempty"`

	// Extension optionally overrides the server's system-prompt extension.
	Extension string `json:"extension,omitempty"`
}

// upgrader accepts stream connections. Write buffering is sized for
// checkpoint events, which carry full finding lists.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// streamQueueDepth bounds the per-client event queue. Clients that cannot
// keep up lose events rather than stalling the run.
const streamQueueDepth = 256

// HandleRunResearch accepts a research request and launches it in the
// background, returning the correlation id immediately.
func HandleRunResearch(registry *Registry, factory RunnerFactory, cfg Config, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		effective := cfg.Research
		if len(req.Config) > 0 {
			merged, err := rescfg.FromDict(req.Config)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config: " + err.Error()})
				return
			}
			if err := merged.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config: " + err.Error()})
				return
			}
			effective = merged
		}

		extension := cfg.Extension
		if req.Extension != "" {
			extension = req.Extension
		}

		correlationID := uuid.NewString()
		run, err := registry.Create(correlationID, req.Question)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		runner, err := factory(effective, extension, correlationID, events.NewEmitterSink(run.Emitter()))
		if err != nil {
			registry.Fail(correlationID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "start research: " + err.Error()})
			return
		}

		logger.Info("Accepted research request",
			"correlation_id", correlationID,
			"question_chars", len(req.Question),
		)
		go executeRun(registry, correlationID, func(ctx context.Context) (*agent.Result, error) {
			return runner.Run(ctx, req.Question, req.Context)
		})

		c.JSON(http.StatusAccepted, gin.H{
			"correlation_id": correlationID,
			"status":         StatusPending,
		})
	}
}

// HandleGetRun returns the status and, once finished, the result of a run.
func HandleGetRun(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := registry.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, run.View())
	}
}

// HandleStream upgrades to a WebSocket and streams the run's events:
// buffered history first, then live events until the run finishes or the
// client disconnects. The final frame is the run's terminal View.
func HandleStream(registry *Registry, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := registry.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("Websocket upgrade failed", "error", err.Error())
			return
		}
		defer ws.Close()

		// Subscribe before replaying the buffer; events arriving in between
		// show up in both and are skipped once by id.
		queue := make(chan events.Event, streamQueueDepth)
		subID := run.Emitter().Subscribe(func(e *events.Event) {
			select {
			case queue <- *e:
			default:
			}
		})
		defer run.Emitter().Unsubscribe(subID)

		replayed := make(map[string]struct{})
		for _, e := range run.Emitter().GetBuffer() {
			replayed[e.ID] = struct{}{}
			if err := ws.WriteJSON(e); err != nil {
				return
			}
		}

		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case e := <-queue:
				if _, dup := replayed[e.ID]; dup {
					delete(replayed, e.ID)
					continue
				}
				if err := ws.WriteJSON(e); err != nil {
					return
				}
			case <-run.Done():
				drainStream(ws, queue, replayed)
				if err := ws.WriteJSON(run.View()); err != nil {
					logger.Debug("Final stream frame not delivered", "error", err.Error())
				}
				return
			case <-clientGone:
				return
			}
		}
	}
}

// drainStream flushes events queued before the run turned terminal.
func drainStream(ws *websocket.Conn, queue chan events.Event, replayed map[string]struct{}) {
	for {
		select {
		case e := <-queue:
			if _, dup := replayed[e.ID]; dup {
				delete(replayed, e.ID)
				continue
			}
			if err := ws.WriteJSON(e); err != nil {
				return
			}
		default:
			return
		}
	}
}

// HandleGetCheckpoint returns the latest checkpoint for a correlation id in
// its wire shape.
func HandleGetCheckpoint(source agent.CheckpointSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		cp, err := source.LoadCheckpoint(c.Request.Context(), c.Param("id"))
		if err != nil {
			status := checkpointErrorStatus(err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cp.ToDict())
	}
}

// HandleResume restores a run from its latest checkpoint and carries it
// forward in the background under the same correlation id.
func HandleResume(registry *Registry, source agent.CheckpointSource, factory RunnerFactory,
	cfg Config, logger *logging.Logger) gin.HandlerFunc {

	return func(c *gin.Context) {
		correlationID := c.Param("id")

		cp, err := source.LoadCheckpoint(c.Request.Context(), correlationID)
		if err != nil {
			status := checkpointErrorStatus(err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		// The checkpoint's config drives the resumed run so tool resolution
		// and stop conditions match the original request.
		restored, err := rescfg.FromDict(cp.Config)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint config: " + err.Error()})
			return
		}

		run, err := registry.Create(correlationID, cp.Question)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		runner, err := factory(restored, cfg.Extension, correlationID, events.NewEmitterSink(run.Emitter()))
		if err != nil {
			registry.Fail(correlationID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resume research: " + err.Error()})
			return
		}

		logger.Info("Resuming research request",
			"correlation_id", correlationID,
			"checkpoint_phase", cp.Phase.String(),
			"checkpoint_iteration", cp.Iteration,
		)
		go executeRun(registry, correlationID, func(ctx context.Context) (*agent.Result, error) {
			return runner.Resume(ctx, correlationID)
		})

		c.JSON(http.StatusAccepted, gin.H{
			"correlation_id": correlationID,
			"status":         StatusPending,
			"resumed_from":   cp.Phase.String(),
		})
	}
}

// executeRun drives one research request to a terminal registry state. It
// runs detached from the HTTP request context: the response goes out long
// before the research finishes.
func executeRun(registry *Registry, correlationID string, fn func(context.Context) (*agent.Result, error)) {
	registry.MarkRunning(correlationID)
	result, err := fn(context.Background())
	if err != nil {
		registry.Fail(correlationID, err)
		return
	}
	registry.Complete(correlationID, result)
}

// checkpointErrorStatus maps store errors onto HTTP status codes.
func checkpointErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidCorrelationID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
