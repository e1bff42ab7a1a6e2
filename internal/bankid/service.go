package bankid

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"idport.org/internal/auth"
)

const defaultQRValidity = 30 * time.Second

// Service drives the identification state machine: initiate an order,
// serve its animated QR code, poll the provider, and exchange a completed
// identification for a token pair.
type Service struct {
	provider   Provider
	orders     OrderStore
	users      auth.UserStore
	tokens     *auth.TokenService
	qrValidFor time.Duration
	now        func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithQRValidity overrides the QR window during which an order can be
// presented for scanning.
func WithQRValidity(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.qrValidFor = d
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the provider channel, order storage, and token issuance.
func NewService(provider Provider, orders OrderStore, users auth.UserStore, tokens *auth.TokenService, opts ...ServiceOption) (*Service, error) {
	if provider == nil {
		return nil, errors.New("bankid: provider is required")
	}
	if orders == nil {
		return nil, errors.New("bankid: order store is required")
	}
	if users == nil {
		return nil, errors.New("bankid: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("bankid: token service is required")
	}
	s := &Service{
		provider:   provider,
		orders:     orders,
		users:      users,
		tokens:     tokens,
		qrValidFor: defaultQRValidity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initiate starts a new identification order for the end user's IP and
// records it for subsequent QR and poll requests.
func (s *Service) Initiate(ctx context.Context, endUserIP string) (*Order, error) {
	resp, err := s.provider.Auth(ctx, endUserIP)
	if err != nil {
		return nil, err
	}
	order := &Order{
		OrderRef:       resp.OrderRef,
		AutoStartToken: resp.AutoStartToken,
		QRStartToken:   resp.QRStartToken,
		QRStartSecret:  resp.QRStartSecret,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GenerateQRCodeData produces the current animated-QR payload:
// bankid.<qrStartToken>.<elapsed>.<hmac>, where elapsed is whole seconds
// since the order started and hmac is SHA-256 over that decimal string keyed
// by the QR start secret. Orders past the QR window are purged and reported
// as expired.
func (s *Service) GenerateQRCodeData(ctx context.Context, orderRef string) (string, error) {
	order, err := s.orders.Find(ctx, orderRef)
	if err != nil {
		return "", err
	}
	elapsed := s.now().Sub(order.CreatedAt)
	if elapsed > s.qrValidFor {
		if _, err := s.orders.Delete(ctx, orderRef); err != nil {
			return "", err
		}
		return "", ErrSessionExpired
	}
	seconds := strconv.Itoa(int(elapsed.Seconds()))
	mac := hmac.New(sha256.New, []byte(order.QRStartSecret))
	mac.Write([]byte(seconds))
	return fmt.Sprintf("bankid.%s.%s.%s", order.QRStartToken, seconds, hex.EncodeToString(mac.Sum(nil))), nil
}

// GenerateQRCodeImage renders the current QR payload as a PNG.
func (s *Service) GenerateQRCodeImage(ctx context.Context, orderRef string) ([]byte, error) {
	data, err := s.GenerateQRCodeData(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	return encodeQRPNG(data)
}

// PollResult is the outcome of one collect poll. Tokens is set only when the
// identification completed and was exchanged for a session.
type PollResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Tokens  *auth.TokenPair `json:"tokens,omitempty"`
}

// Poll asks the provider for the order's status. A pending order yields its
// user-facing progress message. A failed order is purged and rejected with
// the provider's message. A completed order is claimed exactly once: the
// first poll to remove the stored order exchanges the identified personal
// number for a token pair, any concurrent poll sees ErrOrderNotFound.
func (s *Service) Poll(ctx context.Context, orderRef string) (*PollResult, error) {
	resp, err := s.provider.Collect(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case "complete":
		personalNumber := resp.CompletionData.User.PersonalNumber
		if personalNumber == "" {
			return nil, fmt.Errorf("%w: completion data carries no personal number", ErrRejected)
		}
		// Resolve the user before claiming so an unknown personal number
		// leaves the order in place and repeats the same rejection on retry.
		user, err := s.users.FindByPersonalNumber(ctx, personalNumber)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return nil, ErrNoAssociatedAccount
			}
			return nil, err
		}
		claimed, err := s.orders.Delete(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrOrderNotFound
		}
		pair, err := s.tokens.IssuePair(ctx, user)
		if err != nil {
			return nil, err
		}
		return &PollResult{Status: resp.Status, Tokens: &pair}, nil

	case "failed":
		if _, err := s.orders.Delete(ctx, orderRef); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, statusMessage(resp.Status, resp.HintCode))

	default:
		return &PollResult{
			Status:  resp.Status,
			Message: statusMessage(resp.Status, resp.HintCode),
		}, nil
	}
}

// Cancel aborts an in-flight order. The local order is removed even when the
// provider call fails; the upstream error is still surfaced so the caller
// knows the provider may consider the order live.
func (s *Service) Cancel(ctx context.Context, orderRef string) error {
	if _, err := s.orders.Find(ctx, orderRef); err != nil {
		return err
	}
	upstreamErr := s.provider.Cancel(ctx, orderRef)
	if _, err := s.orders.Delete(ctx, orderRef); err != nil {
		return err
	}
	return upstreamErr
}
