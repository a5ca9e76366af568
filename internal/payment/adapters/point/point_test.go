package point

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/stretchr/testify/require"
)

func TestCreateIntentAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/point/devices/PAX-01/payment-intents":
			_, _ = io.WriteString(w, `{"id":"pi-1","state":"OPEN","device_id":"PAX-01","amount":"25.00"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/point/payment-intents/pi-1":
			_, _ = io.WriteString(w, `{"id":"pi-1","state":"FINISHED","amount":"25.00","payment":{"id":99,"status":"approved","status_detail":"accredited"}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/point/payment-intents/pi-1":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gw, err := NewFactory().NewGateway(domain.GatewayConfig{BaseURL: srv.URL, WebhookSecret: "s"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = gw.CreateIntent(ctx, domain.IntentRequest{Amount: money.MustParse("25"), Method: domain.MethodDebitCard})
	require.ErrorIs(t, err, domain.ErrTerminalRequired)

	res, err := gw.CreateIntent(ctx, domain.IntentRequest{
		ExternalReference: "01JREF",
		Amount:            money.MustParse("25"),
		Method:            domain.MethodDebitCard,
		TerminalID:        "PAX-01",
	})
	require.NoError(t, err)
	require.Equal(t, "pi-1", res.CorrelationID)
	require.Equal(t, domain.StatusProcessing, res.Status)

	status, err := gw.CheckStatus(ctx, "pi-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, status.Status)
	require.Equal(t, "25.00", status.Amount.StringFixed(2))

	require.NoError(t, gw.Cancel(ctx, "pi-1"))
}

func TestMapState(t *testing.T) {
	var abandoned pointIntent
	abandoned.State = "ABANDONED"
	status, detail := mapState(abandoned)
	require.Equal(t, domain.StatusCancelled, status)
	require.Equal(t, "abandoned", detail)

	var rejected pointIntent
	rejected.State = "FINISHED"
	rejected.Payment.Status = "rejected"
	rejected.Payment.StatusDetail = "cc_rejected_insufficient_amount"
	status, detail = mapState(rejected)
	require.Equal(t, domain.StatusRejected, status)
	require.Equal(t, "cc_rejected_insufficient_amount", detail)

	var unknown pointIntent
	unknown.State = "PAUSED"
	status, _ = mapState(unknown)
	require.Empty(t, status)
}

func TestParseNotification(t *testing.T) {
	gw, err := NewFactory().NewGateway(domain.GatewayConfig{BaseURL: "https://api.example", WebhookSecret: "s"})
	require.NoError(t, err)

	n, err := gw.ParseNotification(context.Background(), []byte(`{"id":"evt-1","action":"state_ERROR","data":{"id":"pi-1","state":"ERROR","device_id":"PAX-01"}}`))
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, n.Status)
	require.Equal(t, "pi-1", n.CorrelationID)
	require.Nil(t, n.Amount)

	_, err = gw.ParseNotification(context.Background(), []byte(`{"id":"evt-2","action":"device.updated","data":{"id":"pi-1"}}`))
	require.ErrorIs(t, err, domain.ErrNotificationIgnored)
}
