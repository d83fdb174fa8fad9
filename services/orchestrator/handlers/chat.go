// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface for the conversation
// pipeline: the chat endpoints, the knowledge catalog, and the SSE
// writer used by streaming responses.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/pipeline"
)

// ChatHandler serves the chat endpoints over one pipeline instance.
type ChatHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logging.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(p *pipeline.Pipeline, logger *logging.Logger) *ChatHandler {
	return &ChatHandler{pipeline: p, logger: logger}
}

// HandleChat serves POST /api/v1/chat.
//
// # Description
//
// Validates the request, runs the full pipeline, and returns the
// response envelope. Pipeline-internal failures never surface as HTTP
// errors; only malformed requests do.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.EnsureDefaults()

	resp := h.pipeline.Process(c.Request.Context(), &req)
	c.JSON(http.StatusOK, resp)
}

// HandleChatStream serves POST /api/v1/chat/stream as SSE.
//
// # Description
//
// Emits status events as stages resolve, a citations event once
// retrieval completes, token events during generation, and one terminal
// done event carrying the full response envelope. A client disconnect
// stops delivery but the turn still runs to completion so logs and
// metrics stay truthful.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.EnsureDefaults()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	disconnected := false
	h.pipeline.ProcessStream(c.Request.Context(), &req, func(ev datatypes.StreamEvent) {
		if disconnected {
			return
		}
		if err := writer.WriteEvent(ev); err != nil {
			disconnected = true
			h.logger.Warn("client disconnected during stream",
				"error", err, "session_id", req.SessionID)
		}
	})
}
