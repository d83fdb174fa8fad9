// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/agents/rulesets"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
)

// catalogSourceLimit bounds how many source titles are counted per
// namespace when building the catalog.
const catalogSourceLimit = 50

// KnowledgeHandler serves the knowledge catalog endpoint.
type KnowledgeHandler struct {
	catalog rag.Catalog
	rules   *rulesets.RoutingRules
	logger  *logging.Logger
}

// NewKnowledgeHandler builds a KnowledgeHandler. The routing rules
// supply the human-readable namespace descriptions.
func NewKnowledgeHandler(catalog rag.Catalog, rules *rulesets.RoutingRules, logger *logging.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{catalog: catalog, rules: rules, logger: logger}
}

// HandleCatalog serves GET /api/v1/knowledge/catalog.
//
// Namespaces whose source listing fails are reported with a zero count
// rather than failing the whole catalog.
func (h *KnowledgeHandler) HandleCatalog(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge store not configured"})
		return
	}

	namespaces, err := h.catalog.ListNamespaces(c.Request.Context())
	if err != nil {
		h.logger.Error("catalog namespace listing failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "knowledge store unavailable"})
		return
	}

	resp := datatypes.CatalogResponse{Namespaces: make([]datatypes.CatalogNamespace, 0, len(namespaces))}
	for _, namespace := range namespaces {
		entry := datatypes.CatalogNamespace{
			Name:        namespace,
			Description: h.rules.Describe(namespace),
		}
		titles, err := h.catalog.ListSources(c.Request.Context(), namespace, catalogSourceLimit)
		if err != nil {
			h.logger.Warn("catalog source listing failed",
				"namespace", namespace, "error", err)
		} else {
			entry.SourceCount = len(titles)
		}
		resp.Namespaces = append(resp.Namespaces, entry)
	}

	c.JSON(http.StatusOK, resp)
}
