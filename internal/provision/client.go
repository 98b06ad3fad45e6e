package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/pkg/httpclient"
)

// Subscriber is one account on the IPTV panel.
type Subscriber struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	M3UURL    string `json:"m3u_url"`
	PortalURL string `json:"portal_url"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateSubscriberRequest describes the account to create.
type CreateSubscriberRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	DurationDays int    `json:"duration_days"`
	Connections  int    `json:"max_connections"`
	Note         string `json:"note"`
}

// PanelClient talks to the IPTV panel's management API.
type PanelClient struct {
	baseURL string
	http    *httpclient.Client
}

func NewPanelClient(cfg config.PanelConfig) *PanelClient {
	return &PanelClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpclient.New().WithBearerToken(cfg.APIKey),
	}
}

func (c *PanelClient) CreateSubscriber(ctx context.Context, req *CreateSubscriberRequest) (*Subscriber, error) {
	resp, err := c.http.Post(ctx, c.baseURL+"/api/subscribers", req)
	if err != nil {
		return nil, fmt.Errorf("panel create subscriber failed: %w", err)
	}
	var sub Subscriber
	if err := json.Unmarshal(resp, &sub); err != nil {
		return nil, fmt.Errorf("panel response parse error: %w", err)
	}
	if sub.Username == "" {
		return nil, fmt.Errorf("panel returned an empty subscriber")
	}
	return &sub, nil
}

func (c *PanelClient) GetSubscriber(ctx context.Context, username string) (*Subscriber, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/api/subscribers/"+username)
	if err != nil {
		return nil, fmt.Errorf("panel get subscriber failed: %w", err)
	}
	var sub Subscriber
	if err := json.Unmarshal(resp, &sub); err != nil {
		return nil, fmt.Errorf("panel response parse error: %w", err)
	}
	return &sub, nil
}

func (c *PanelClient) ExtendSubscriber(ctx context.Context, username string, days int) error {
	_, err := c.http.Post(ctx, c.baseURL+"/api/subscribers/"+username+"/extend", map[string]interface{}{
		"days": days,
	})
	if err != nil {
		return fmt.Errorf("panel extend subscriber failed: %w", err)
	}
	return nil
}

func (c *PanelClient) DisableSubscriber(ctx context.Context, username string) error {
	_, err := c.http.Post(ctx, c.baseURL+"/api/subscribers/"+username+"/disable", nil)
	if err != nil {
		return fmt.Errorf("panel disable subscriber failed: %w", err)
	}
	return nil
}
