// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway is the outbound WhatsApp messaging client.
//
// The provider API accepts form-encoded sends: session messages go to
// /wa/api/v1/msg with the message body JSON-encoded into a single form
// field, and template notifications (which may reach contacts outside
// the 24h session window) go to /wa/api/v1/template/msg. Delivery is
// fire-and-forget from the flows' point of view; a failed send is
// logged and surfaced, never retried here.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
)

const defaultBaseURL = "https://api.gupshup.io"

// Sender is the outbound surface the conversational flows depend on.
// The engine never constructs provider payloads itself.
type Sender interface {
	Send(ctx context.Context, destination string, msg datatypes.Message) error
	SendTemplate(ctx context.Context, destination, templateID string, params []string) error
}

// Config carries the provider credentials and identity.
type Config struct {
	// BaseURL overrides the provider endpoint, used by tests.
	BaseURL string

	// APIKey authenticates every request via the apikey header.
	APIKey string

	// Source is the business WhatsApp number messages are sent from.
	Source string

	// AppName is the provider-side application name (src.name).
	AppName string

	Logger *slog.Logger
}

// Client sends WhatsApp messages through the provider HTTP API.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewClient builds a provider client. APIKey, Source and AppName must be
// set; BaseURL defaults to the hosted API.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway: APIKey is required")
	}
	if cfg.Source == "" || cfg.AppName == "" {
		return nil, fmt.Errorf("gateway: Source and AppName are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		logger:     cfg.Logger,
	}, nil
}

// Send delivers one session message to a contact. The destination must
// already be in dialable form (country code prefixed).
func (c *Client) Send(ctx context.Context, destination string, msg datatypes.Message) error {
	encoded, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("gateway: encode message: %w", err)
	}

	form := url.Values{
		"channel":     {"whatsapp"},
		"source":      {c.cfg.Source},
		"destination": {destination},
		"src.name":    {c.cfg.AppName},
		"message":     {encoded},
	}
	return c.post(ctx, "/wa/api/v1/msg", form)
}

// SendTemplate delivers a pre-approved template notification, used when
// the contact may be outside the session window (e.g. telling an
// assignee a task landed on them).
func (c *Client) SendTemplate(ctx context.Context, destination, templateID string, params []string) error {
	tpl, err := json.Marshal(map[string]any{
		"id":     templateID,
		"params": params,
	})
	if err != nil {
		return fmt.Errorf("gateway: encode template: %w", err)
	}

	form := url.Values{
		"channel":     {"whatsapp"},
		"source":      {c.cfg.Source},
		"destination": {destination},
		"src.name":    {c.cfg.AppName},
		"template":    {string(tpl)},
	}
	return c.post(ctx, "/wa/api/v1/template/msg", form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w: %w", path, datatypes.ErrUpstreamDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("provider rejected send",
			"path", path,
			"status", resp.StatusCode,
			"body", string(body))
		return fmt.Errorf("gateway: %s: status %d: %w", path, resp.StatusCode, datatypes.ErrUpstreamDelivery)
	}

	// Drain so the connection is reusable.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
