package stripe_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"

	"github.com/xraph/tally/payment/stripe"
	"github.com/xraph/tally/types"
)

type mockBackend struct {
	handler func(method, path string, params stripego.ParamsContainer) ([]byte, error)
}

func (m *mockBackend) Call(method, path, key string, params stripego.ParamsContainer, v stripego.LastResponseSetter) error {
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripego.ParamsContainer, v stripego.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripego.Params, v stripego.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripego.Params, v stripego.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

func adapter(t *testing.T, handler func(method, path string, params stripego.ParamsContainer) ([]byte, error)) *stripe.Adapter {
	t.Helper()
	a, err := stripe.New(stripe.Config{SecretKey: "sk_test_123", Backend: &mockBackend{handler: handler}}, nil)
	require.NoError(t, err)
	return a
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, stripe.Config{}.Validate(), types.ErrInvalidRequest)
	assert.ErrorIs(t, stripe.Config{SecretKey: "pk_test_1"}.Validate(), types.ErrInvalidRequest)
	assert.NoError(t, stripe.Config{SecretKey: "sk_live_1"}.Validate())
}

func TestAuthorizeCaptureRefund(t *testing.T) {
	var authorized *stripego.PaymentIntentParams
	a := adapter(t, func(method, path string, params stripego.ParamsContainer) ([]byte, error) {
		switch {
		case method == "POST" && path == "/v1/payment_intents":
			authorized = params.(*stripego.PaymentIntentParams)
			return json.Marshal(&stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusRequiresCapture})
		case method == "POST" && path == "/v1/payment_intents/pi_1/capture":
			return json.Marshal(&stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusSucceeded})
		case method == "POST" && path == "/v1/refunds":
			return json.Marshal(&stripego.Refund{ID: "re_1"})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})
	ctx := context.Background()

	auth, err := a.Authorize(ctx, "acct_1", types.USD(2500), "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", auth.ID)
	require.NotNil(t, authorized)
	assert.Equal(t, int64(2500), *authorized.Amount)
	assert.Equal(t, "usd", *authorized.Currency)
	assert.Equal(t, "manual", *authorized.CaptureMethod)
	assert.True(t, *authorized.Confirm)

	ref, err := a.Capture(ctx, auth.ID, types.USD(2500))
	require.NoError(t, err)
	assert.Equal(t, "pi_1", ref)

	require.NoError(t, a.Refund(ctx, ref, types.USD(500)))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"card declined", &stripego.Error{Type: stripego.ErrorTypeCard, Code: stripego.ErrorCodeCardDeclined, HTTPStatusCode: 402}, types.ErrPaymentAuthorizationDenied},
		{"invalid request", &stripego.Error{Type: stripego.ErrorTypeInvalidRequest, HTTPStatusCode: 400}, types.ErrPaymentAuthorizationDenied},
		{"rate limited", &stripego.Error{Type: stripego.ErrorTypeInvalidRequest, HTTPStatusCode: 429}, types.ErrInfrastructureFailure},
		{"server error", &stripego.Error{Type: stripego.ErrorTypeAPI, HTTPStatusCode: 500}, types.ErrInfrastructureFailure},
		{"transport", errors.New("dial tcp: i/o timeout"), types.ErrInfrastructureFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := adapter(t, func(string, string, stripego.ParamsContainer) ([]byte, error) { return nil, tt.err })
			_, err := a.Authorize(context.Background(), "acct_1", types.USD(100), "pm_x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthorizeRejectsUnconfirmedIntent(t *testing.T) {
	a := adapter(t, func(string, string, stripego.ParamsContainer) ([]byte, error) {
		return json.Marshal(&stripego.PaymentIntent{ID: "pi_2", Status: stripego.PaymentIntentStatusRequiresAction})
	})
	_, err := a.Authorize(context.Background(), "acct_1", types.USD(100), "pm_3ds")
	assert.ErrorIs(t, err, types.ErrPaymentAuthorizationDenied)
}
