// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin HTTP handlers for the chatbot service.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/engine"
)

// HandleWebhook receives inbound events from the messaging provider.
//
// The transport contract is unconditional: every request is acknowledged
// with 200 regardless of what happens inside, because a non-2xx answer
// triggers provider-side redelivery storms. Malformed bodies and engine
// failures are logged and swallowed.
func HandleWebhook(e *engine.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev datatypes.WebhookEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			logger.Warn("undecodable webhook payload", "error", err)
			c.JSON(http.StatusOK, gin.H{"message": "OK"})
			return
		}

		if err := e.HandleEvent(c.Request.Context(), &ev); err != nil {
			logger.Error("event handling failed",
				"event_id", ev.Payload.ID,
				"error", err)
		}
		c.JSON(http.StatusOK, gin.H{"message": "OK"})
	}
}
