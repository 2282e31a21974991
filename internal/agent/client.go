// Package agent calls the image scan service that extracts cosmetic items
// from photos.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when the scan service cannot be reached
var ErrUnavailable = errors.New("scan service unavailable")

// Image is one base64 encoded photo
type Image struct {
	Base64   string `json:"base64" binding:"required"`
	MimeType string `json:"mime_type" binding:"required"`
}

type scanRequest struct {
	Images []Image `json:"images"`
	UserID string  `json:"user_id"`
}

type scanResponse struct {
	Items []models.Fields `json:"items"`
}

// Client talks to the scan service over HTTP
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a scan service client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

// Scan sends the images and returns the raw items the service recognized
func (c *Client) Scan(ctx context.Context, userID string, images []Image) ([]models.Fields, error) {
	ctx, span := util.StartSpan(ctx, "agent.Client.Scan")
	defer span.End()

	body, err := json.Marshal(scanRequest{Images: images, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		util.ScanRequestsTotal.WithLabelValues("unavailable").Inc()
		c.logger.Error("Scan service request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		util.ScanRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scan service responded with %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var out scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		util.ScanRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode scan response: %w", err)
	}

	util.ScanRequestsTotal.WithLabelValues("ok").Inc()
	return out.Items, nil
}
