package chains

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps an asset (chain + currency) to its verifier.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

func NewRegistry() *Registry {
	return &Registry{
		verifiers: make(map[string]Verifier),
	}
}

func (r *Registry) Register(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[v.Params().Asset] = v
}

func (r *Registry) Verifier(asset string) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return v, nil
}

func (r *Registry) VerifierFor(chain, currency string) (Verifier, error) {
	asset, err := AssetFor(chain, currency)
	if err != nil {
		return nil, err
	}
	return r.Verifier(asset)
}

// Scanner returns the transfer scanner of the asset, if its verifier has one.
func (r *Registry) Scanner(asset string) (TransferScanner, bool) {
	v, err := r.Verifier(asset)
	if err != nil {
		return nil, false
	}
	s, ok := v.(TransferScanner)
	return s, ok
}

func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]string, 0, len(r.verifiers))
	for asset := range r.verifiers {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}
