// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/handlers"
)

// SetupRoutes registers the service's HTTP surface on the router.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler, knowledge *handlers.KnowledgeHandler) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/chat", chat.HandleChat)
		v1.POST("/chat/stream", chat.HandleChatStream)
		v1.GET("/knowledge/catalog", knowledge.HandleCatalog)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "wisdom-engine"})
}
