package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentContext carries the routing hints for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager dispatches session calls to a registered provider and stamps the provider key
// on the result.
type Manager struct {
	providers  map[string]Provider
	fallback   string
	currencies map[string]struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when the caller expresses no preference.
func WithDefaultProvider(key string) ManagerOption {
	return func(m *Manager) { m.fallback = normalizeKey(key) }
}

// WithCurrencies restricts the manager to the given ISO codes. Without it every currency is accepted.
func WithCurrencies(codes ...string) ManagerOption {
	return func(m *Manager) {
		for _, code := range codes {
			if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
				if m.currencies == nil {
					m.currencies = map[string]struct{}{}
				}
				m.currencies[code] = struct{}{}
			}
		}
	}
}

// NewManager registers providers by key. Keys are case-insensitive.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for key, p := range providers {
		norm := normalizeKey(key)
		if norm == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		m.providers[norm] = p
	}
	if len(m.providers) == 1 {
		for key := range m.providers {
			m.fallback = key
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) pick(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if m.currencies != nil {
		if _, ok := m.currencies[strings.ToUpper(strings.TrimSpace(pc.Currency))]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, pc.Currency)
		}
	}
	for _, key := range []string{normalizeKey(pc.PreferredProvider), m.fallback} {
		if p, ok := m.providers[key]; ok && key != "" {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession opens a hosted payment session with the selected provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, pc PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, p, err := m.pick(pc)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := p.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// LookupSession fetches the provider's view of a session.
func (m *Manager) LookupSession(ctx context.Context, pc PaymentContext, sessionID string) (SessionDetails, error) {
	key, p, err := m.pick(pc)
	if err != nil {
		return SessionDetails{}, err
	}
	details, err := p.LookupSession(ctx, sessionID)
	if err != nil {
		return SessionDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
