package courier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Account is a tenant's configured courier account.
type Account struct {
	ID          string
	TenantID    string
	Provider    string
	Credentials Credentials
}

// Factory constructs the adapter for one provider type.
type Factory func() Adapter

// Registry resolves adapters by provider type. Factories are registered once
// at startup; each adapter is constructed lazily and then reused, since
// adapters carry no per-account state.
type Registry struct {
	factories map[string]Factory
	adapters  map[string]Adapter
	mu        sync.RWMutex
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// RegisterFactory adds a constructor for a provider type, replacing any
// previous registration and its cached adapter.
func (r *Registry) RegisterFactory(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
	delete(r.adapters, provider)
}

// Register adds a ready-made adapter under its own provider name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[a.Provider()] = func() Adapter { return a }
	r.adapters[a.Provider()] = a
}

// Resolve returns the adapter for a provider type.
func (r *Registry) Resolve(provider string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[provider]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[provider]; ok {
		return a, nil
	}
	f, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	a = f()
	r.adapters[provider] = a
	return a, nil
}

// ResolveAccount returns the adapter for an account's provider type.
func (r *Registry) ResolveAccount(acct Account) (Adapter, error) {
	return r.Resolve(acct.Provider)
}

// WebhookParser returns the webhook parser for a provider, if its adapter
// implements one.
func (r *Registry) WebhookParser(provider string) (WebhookParser, error) {
	a, err := r.Resolve(provider)
	if err != nil {
		return nil, err
	}
	p, ok := a.(WebhookParser)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no webhook parser", ErrProviderNotFound, provider)
	}
	return p, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// QuoteAll fetches rates from every account in parallel. A failing account
// does not fail the request; its failure is returned alongside the rates
// from the others.
func (r *Registry) QuoteAll(ctx context.Context, accounts []Account, req *RateRequest) ([]Rate, []error) {
	if len(accounts) == 0 {
		return nil, []error{ErrProviderNotFound}
	}

	rates := make([]Rate, 0)
	errs := make([]error, 0)
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)

	for _, acct := range accounts {
		g.Go(func() error {
			a, err := r.ResolveAccount(acct)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			res := a.GetRates(ctx, acct.Credentials, req)
			mu.Lock()
			defer mu.Unlock()
			if !res.Success {
				errs = append(errs, fmt.Errorf("%s/%s: %w", acct.Provider, acct.ID, res.AsError()))
				return nil
			}
			for _, rate := range res.Value {
				rate.AccountID = acct.ID
				rates = append(rates, rate)
			}
			return nil
		})
	}

	_ = g.Wait()

	sort.SliceStable(rates, func(i, j int) bool {
		return rates[i].TotalCharge < rates[j].TotalCharge
	})
	return rates, errs
}
