package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/payment/adapters/getnet"
	"github.com/smallbiznis/carehub/internal/payment/adapters/manual"
	"github.com/smallbiznis/carehub/internal/payment/adapters/pix"
	"github.com/smallbiznis/carehub/internal/payment/adapters/point"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"go.uber.org/zap"
)

// Registry builds gateways from their factories and caches one instance per provider,
// so each provider keeps a single circuit breaker.
type Registry struct {
	factories map[string]domain.GatewayFactory
	configs   map[string]domain.GatewayConfig

	mu       sync.Mutex
	gateways map[string]domain.Gateway
}

func NewRegistry(factories ...domain.GatewayFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.GatewayFactory{},
		configs:   map[string]domain.GatewayConfig{},
		gateways:  map[string]domain.Gateway{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// ProvideRegistry wires every adapter with its credentials from the environment.
func ProvideRegistry(cfg config.Config, log *zap.Logger) *Registry {
	registry := NewRegistry(
		pix.NewFactory(),
		point.NewFactory(),
		getnet.NewFactory(),
		manual.NewFactory(),
	)
	registry.Configure(domain.ProviderPix, fromConfig(cfg.Gateways.Pix))
	registry.Configure(domain.ProviderPoint, fromConfig(cfg.Gateways.Point))
	registry.Configure(domain.ProviderGetnet, fromConfig(cfg.Gateways.Getnet))
	registry.Configure(domain.ProviderManual, fromConfig(cfg.Gateways.Manual))

	for _, provider := range []string{domain.ProviderPix, domain.ProviderPoint, domain.ProviderGetnet} {
		if _, err := registry.Gateway(provider); err != nil {
			log.Info("payment provider not configured", zap.String("provider", provider), zap.Error(err))
		}
	}
	return registry
}

func fromConfig(gw config.GatewayConfig) domain.GatewayConfig {
	return domain.GatewayConfig{
		BaseURL:       gw.BaseURL,
		AccessToken:   gw.AccessToken,
		WebhookSecret: gw.WebhookSecret,
		Timeout:       gw.Timeout,
	}
}

// Configure sets the configuration a provider's gateway is built from and drops any cached instance.
func (r *Registry) Configure(provider string, cfg domain.GatewayConfig) {
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[provider] = cfg
	delete(r.gateways, provider)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.GatewayConfig) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewGateway(cfg)
}

// Gateway returns the cached adapter for provider, building it on first use.
func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if gw, ok := r.gateways[provider]; ok {
		return gw, nil
	}
	gw, err := r.NewAdapter(provider, r.configs[provider])
	if err != nil {
		return nil, err
	}
	r.gateways[provider] = gw
	return gw, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
