package adapters

import (
	"testing"

	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryCachesGateways(t *testing.T) {
	var cfg config.Config
	cfg.Gateways.Pix = config.GatewayConfig{BaseURL: "https://pix.example", WebhookSecret: "s"}

	registry := ProvideRegistry(cfg, zap.NewNop())
	require.True(t, registry.ProviderExists(" PIX "))
	require.False(t, registry.ProviderExists("stripe"))

	first, err := registry.Gateway(domain.ProviderPix)
	require.NoError(t, err)
	second, err := registry.Gateway("pix")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, domain.IntegrationCheckout, first.IntegrationType())

	manual, err := registry.Gateway(domain.ProviderManual)
	require.NoError(t, err)
	require.Equal(t, domain.IntegrationManualPOS, manual.IntegrationType())

	// point has no credentials
	_, err = registry.Gateway(domain.ProviderPoint)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	registry.Configure(domain.ProviderPoint, domain.GatewayConfig{BaseURL: "https://point.example", WebhookSecret: "s"})
	point, err := registry.Gateway(domain.ProviderPoint)
	require.NoError(t, err)
	require.Equal(t, domain.IntegrationPointTEF, point.IntegrationType())

	_, err = registry.Gateway("stripe")
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}
