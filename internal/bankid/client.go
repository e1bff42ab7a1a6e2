package bankid

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"idport.org/internal/config"
)

// AuthResponse is the provider's reply to an auth order.
type AuthResponse struct {
	OrderRef       string `json:"orderRef"`
	AutoStartToken string `json:"autoStartToken"`
	QRStartToken   string `json:"qrStartToken"`
	QRStartSecret  string `json:"qrStartSecret"`
}

// CompletionUser is the identified subject in a completed collect reply.
type CompletionUser struct {
	PersonalNumber string `json:"personalNumber"`
	Name           string `json:"name"`
	GivenName      string `json:"givenName"`
	Surname        string `json:"surname"`
}

// CompletionData carries the completion section of a collect reply.
type CompletionData struct {
	User CompletionUser `json:"user"`
}

// CollectResponse is the provider's reply to a collect poll.
type CollectResponse struct {
	OrderRef       string         `json:"orderRef"`
	Status         string         `json:"status"`
	HintCode       string         `json:"hintCode"`
	CompletionData CompletionData `json:"completionData"`
}

// Provider is the relying-party channel to the e-ID provider. *Client is the
// production implementation; tests substitute a stub.
type Provider interface {
	Auth(ctx context.Context, endUserIP string) (*AuthResponse, error)
	Collect(ctx context.Context, orderRef string) (*CollectResponse, error)
	Cancel(ctx context.Context, orderRef string) error
}

// Client speaks the relying-party v6.0 API over mutually authenticated TLS.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a provider client from configuration. The client
// certificate is optional so that tests can point at a plain HTTPS stub.
func NewClient(cfg config.BankID) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("bankid: endpoint is required")
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("bankid: load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("bankid: read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("bankid: ca certificate contains no usable PEM data")
		}
		tlsConfig.RootCAs = pool
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}, nil
}

// Auth starts a new identification order for the given end-user IP.
func (c *Client) Auth(ctx context.Context, endUserIP string) (*AuthResponse, error) {
	payload := map[string]any{
		"endUserIp":  endUserIP,
		"returnRisk": true,
		"requirement": map[string]any{
			"risk": "low",
		},
	}
	var out AuthResponse
	if err := c.post(ctx, "/rp/v6.0/auth", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Collect polls the order's status.
func (c *Client) Collect(ctx context.Context, orderRef string) (*CollectResponse, error) {
	var out CollectResponse
	if err := c.post(ctx, "/rp/v6.0/collect", map[string]any{"orderRef": orderRef}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel aborts an in-flight order at the provider.
func (c *Client) Cancel(ctx context.Context, orderRef string) error {
	return c.post(ctx, "/rp/v6.0/cancel", map[string]any{"orderRef": orderRef}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return nil
}
