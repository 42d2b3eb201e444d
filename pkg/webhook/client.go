package webhook

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
)

// Client handles webhook HTTP requests with optimized connection pooling
type Client struct {
	url        string
	httpClient *http.Client
	config     *config.Config
	bufferPool sync.Pool // Pool for JSON marshaling buffers
}

// NewClient creates a new webhook client with optimized connection pooling
func NewClient(url string, cfg *config.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},

		ResponseHeaderTimeout: 30 * time.Second,

		// Small JSON payloads gain nothing from compression
		DisableCompression: true,

		// Force HTTP/1.1 for better connection reuse
		ForceAttemptHTTP2: false,
	}

	client := &Client{
		url:    url,
		config: cfg,
		httpClient: &http.Client{
			Timeout:   45 * time.Second,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
	}

	return client
}

// Send sends a webhook with the provided data
func (c *Client) Send(webhook models.WebhookItem) error {
	log := logger.GetLogger().WithComponent("webhook")

	validChiSquare := c.sanitizeFloat(webhook.ChiSquare)
	if validChiSquare != webhook.ChiSquare {
		log.WithFields(logger.Fields{"from": webhook.ChiSquare, "to": validChiSquare}).Warn("chi-square sanitized")
	}

	payload := models.WebhookResponse{
		ID:            webhook.RequestID,
		Timestamp:     time.Now().Format(time.RFC3339Nano),
		ChiSquare:     validChiSquare,
		Time:          webhook.Time,
		Voltage:       webhook.Voltage,
		FittedVoltage: webhook.FittedVoltage,
		Parameters:    webhook.Params,
		OCV:           c.sanitizeFloat(webhook.Circuit.OCV),
		IR:            c.sanitizeFloat(webhook.Circuit.IR),
		Resistances:   webhook.Circuit.R,
		Capacitances:  webhook.Circuit.C,
		BranchCurves:  webhook.BranchCurves,
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}

	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if !c.config.Quiet {
		log.WithFields(logger.Fields{
			"request_id": webhook.RequestID,
			"chi_sq":     webhook.ChiSquare,
			"status":     resp.StatusCode,
		}).Info("webhook sent")
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// sanitizeFloat cleans float64 values for JSON compatibility
func (c *Client) sanitizeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}
	return value
}
