package bankid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"idport.org/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.BankID{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClientAuth(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rp/v6.0/auth" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload struct {
			EndUserIP   string `json:"endUserIp"`
			ReturnRisk  bool   `json:"returnRisk"`
			Requirement struct {
				Risk string `json:"risk"`
			} `json:"requirement"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.EndUserIP != "198.51.100.7" || !payload.ReturnRisk || payload.Requirement.Risk != "low" {
			t.Errorf("unexpected payload: %+v", payload)
		}
		json.NewEncoder(w).Encode(AuthResponse{
			OrderRef:       "order-1",
			AutoStartToken: "ast-1",
			QRStartToken:   "qst-1",
			QRStartSecret:  "secret-1",
		})
	}))

	resp, err := client.Auth(context.Background(), "198.51.100.7")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if resp.OrderRef != "order-1" || resp.QRStartSecret != "secret-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientCollect(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rp/v6.0/collect" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var payload struct {
			OrderRef string `json:"orderRef"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.OrderRef != "order-1" {
			t.Errorf("unexpected orderRef: %q", payload.OrderRef)
		}
		json.NewEncoder(w).Encode(CollectResponse{
			OrderRef: "order-1",
			Status:   "complete",
			CompletionData: CompletionData{
				User: CompletionUser{PersonalNumber: "190001019876", Name: "Alice Example"},
			},
		})
	}))

	resp, err := client.Collect(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Status != "complete" || resp.CompletionData.User.PersonalNumber != "190001019876" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientCancel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rp/v6.0/cancel" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestClientNon2xxIsUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errorCode":"invalidParameters"}`, http.StatusBadRequest)
	}))

	if _, err := client.Auth(context.Background(), "198.51.100.7"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestClientTransportFailureIsUpstreamError(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	if _, err := client.Collect(context.Background(), "order-1"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(config.BankID{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
