package getnet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/carehub/internal/payment/adapters/signature"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/stretchr/testify/require"
)

func TestCreateIntentSendsCents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/terminals/GT-7/transactions", r.URL.Path)
		var body transactionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 1999, body.Amount)
		require.Equal(t, "credit", body.Product)
		_, _ = io.WriteString(w, `{"transaction_id":"tx-1","status":"SENT"}`)
	}))
	defer srv.Close()

	gw, err := NewFactory().NewGateway(domain.GatewayConfig{BaseURL: srv.URL, WebhookSecret: "s"})
	require.NoError(t, err)
	res, err := gw.CreateIntent(context.Background(), domain.IntentRequest{
		ExternalReference: "01JREF",
		Amount:            money.MustParse("19.99"),
		Method:            domain.MethodCreditCard,
		TerminalID:        "GT-7",
	})
	require.NoError(t, err)
	require.Equal(t, "tx-1", res.CorrelationID)
	require.Equal(t, domain.StatusProcessing, res.Status)

	_, err = gw.CreateIntent(context.Background(), domain.IntentRequest{Method: domain.MethodPix, TerminalID: "GT-7"})
	require.ErrorIs(t, err, domain.ErrInvalidMethod)
}

func TestNotification(t *testing.T) {
	gw, err := NewFactory().NewGateway(domain.GatewayConfig{BaseURL: "https://api.example", WebhookSecret: "whsec"})
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte(`{"event_id":"ev-9","event_type":"transaction.status","timestamp":1775822400,"data":{"transaction_id":"tx-1","order_id":"01JREF","status":"DENIED","reason":"insufficient_funds","amount":1999,"product":"debit"}}`)
	headers := http.Header{}
	headers.Set(signatureHeader, signature.Header("whsec", payload, time.Now().Unix()))
	require.NoError(t, gw.VerifyNotification(ctx, payload, headers))

	n, err := gw.ParseNotification(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, n.Status)
	require.Equal(t, "insufficient_funds", n.StatusDetail)
	require.Equal(t, "19.99", n.Amount.StringFixed(2))
	require.Equal(t, string(domain.MethodDebitCard), n.Method)
	require.Equal(t, time.Unix(1775822400, 0).UTC(), n.OccurredAt)

	_, err = gw.ParseNotification(ctx, []byte(`{"event_id":"ev-10","event_type":"terminal.online","data":{}}`))
	require.ErrorIs(t, err, domain.ErrNotificationIgnored)
}

func TestCents(t *testing.T) {
	require.EqualValues(t, 1050, toCents(money.MustParse("10.5")))
	require.EqualValues(t, 1, toCents(money.MustParse("0.005")))
	require.Nil(t, fromCents(nil))
	cents := int64(12345)
	require.Equal(t, "123.45", fromCents(&cents).StringFixed(2))
}
