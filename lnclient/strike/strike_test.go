package strike

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Marfusios/strike-lightning-bridge/config"
	"github.com/Marfusios/strike-lightning-bridge/db"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
	"github.com/Marfusios/strike-lightning-bridge/tests"
	"github.com/Marfusios/strike-lightning-bridge/tests/mocks"
)

func createTestClient(t *testing.T, svc *tests.TestService, gateway *mocks.Gateway, settings *config.StrikeSettings) *StrikeClient {
	gateway.On("GetBalances", mock.Anything).Return([]strikeapi.Balance{
		{Currency: "BTC", Available: 1.5, Total: 1.5},
		{Currency: "USD", Available: 100, Total: 100},
	}, nil)

	client, err := NewStrikeClient(context.TODO(), settings, gateway, svc.DB, svc.EventPublisher)
	require.NoError(t, err)
	return client
}

func TestCreateInvoice_PersistsRequest(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTestClient(t, svc, gateway, tests.DefaultSettings())

	gateway.On("IssueInvoice", mock.Anything, strikeapi.Amount{Amount: 0.00021, Currency: "BTC"}, "coffee").
		Return(&strikeapi.Invoice{InvoiceId: "inv-1", State: strikeapi.InvoiceStateUnpaid}, nil)
	gateway.On("IssueQuote", mock.Anything, "inv-1", "").
		Return(&strikeapi.InvoiceQuote{
			QuoteId:        "quote-1",
			LnInvoice:      tests.MockBolt11Invoice,
			ConversionRate: strikeapi.Amount{Amount: 1, Currency: "BTC"},
		}, nil)

	invoice, err := client.CreateInvoice(ctx, 21000, "coffee", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", invoice.Id)
	assert.Equal(t, tests.MockBolt11Invoice, invoice.PaymentRequest)
	assert.Equal(t, tests.MockPaymentHash, invoice.PaymentHash)
	assert.Equal(t, uint64(21000), invoice.AmountSat)

	request, err := client.Store().FindByRequestId(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, request)
	assert.Equal(t, client.TenantId(), request.TenantId)
	assert.Equal(t, tests.MockPaymentHash, request.PaymentHash)
	assert.Equal(t, "BTC", request.TargetCurrency)
	assert.False(t, request.Paid)
	assert.Nil(t, request.ConvertTo)
	gateway.AssertExpectations(t)
}

func TestCreateInvoice_FiatDenominated(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	settings := tests.DefaultSettings()
	settings.Currency = "USD"
	settings.ConvertTo = "USD"

	gateway := mocks.NewGateway()
	client := createTestClient(t, svc, gateway, settings)

	gateway.On("GetRatesTicker", mock.Anything).Return([]strikeapi.Rate{
		{Amount: 50000, SourceCurrency: "BTC", TargetCurrency: "USD"},
	}, nil)
	// 21000 sat at 50000 USD/BTC is 10.50 USD
	gateway.On("IssueInvoice", mock.Anything, strikeapi.Amount{Amount: 10.5, Currency: "USD"}, "coffee").
		Return(&strikeapi.Invoice{InvoiceId: "inv-1", State: strikeapi.InvoiceStateUnpaid}, nil)
	gateway.On("IssueQuote", mock.Anything, "inv-1", "").
		Return(&strikeapi.InvoiceQuote{QuoteId: "quote-1", LnInvoice: tests.MockBolt11Invoice}, nil)

	_, err = client.CreateInvoice(ctx, 21000, "coffee", time.Hour)
	require.NoError(t, err)

	request, err := client.Store().FindByRequestId(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 10.5, request.TargetAmount)
	assert.Equal(t, "USD", request.TargetCurrency)
	require.NotNil(t, request.ConvertTo)
	assert.Equal(t, "USD", *request.ConvertTo)
	gateway.AssertExpectations(t)
}

func TestResolveCurrency(t *testing.T) {
	balances := []strikeapi.Balance{
		{Currency: "BTC", Available: 1},
		{Currency: "EUR", Available: 50},
	}

	currency, err := resolveCurrency("btc", balances)
	require.NoError(t, err)
	assert.Equal(t, "BTC", currency)

	currency, err = resolveCurrency("fiat", balances)
	require.NoError(t, err)
	assert.Equal(t, "EUR", currency)

	_, err = resolveCurrency("fiat", []strikeapi.Balance{{Currency: "BTC", Available: 1}})
	assert.Error(t, err)
}

func TestNormalizeDescription(t *testing.T) {
	plain, hash := normalizeDescription("coffee")
	assert.Equal(t, "coffee", plain)
	assert.Empty(t, hash)

	metadata := `[["text/plain","Pay to user"],["text/identifier","user@example.com"]]`
	plain, hash = normalizeDescription(metadata)
	assert.Equal(t, "Pay to user", plain)
	assert.Len(t, hash, 64)
}

func TestTranslateInvoiceStatus(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.Equal(t, "PAID", string(translateInvoiceStatus(strikeapi.InvoiceStatePaid, past, now)))
	assert.Equal(t, "UNPAID", string(translateInvoiceStatus(strikeapi.InvoiceStateUnpaid, future, now)))
	assert.Equal(t, "UNPAID", string(translateInvoiceStatus(strikeapi.InvoiceStatePending, future, now)))
	assert.Equal(t, "EXPIRED", string(translateInvoiceStatus(strikeapi.InvoiceStateUnpaid, past, now)))
	assert.Equal(t, "EXPIRED", string(translateInvoiceStatus(strikeapi.InvoiceStateCanceled, future, now)))
	assert.Equal(t, "EXPIRED", string(translateInvoiceStatus(strikeapi.InvoiceStateReversed, future, now)))
	assert.Equal(t, "EXPIRED", string(translateInvoiceStatus(strikeapi.InvoiceStateUndefined, future, now)))
}

func TestRequestStatus_PaidWinsOverExpiry(t *testing.T) {
	now := time.Now()
	request := &db.ReceiveRequest{ExpiresAt: now.Add(-time.Hour), Paid: true}
	assert.Equal(t, "PAID", string(requestStatus(request, now)))

	request.Paid = false
	assert.Equal(t, "EXPIRED", string(requestStatus(request, now)))

	request.ExpiresAt = now.Add(time.Hour)
	assert.Equal(t, "UNPAID", string(requestStatus(request, now)))
}

func TestGetBalance_AggregatesCurrencies(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTestClient(t, svc, gateway, tests.DefaultSettings())

	gateway.On("GetRatesTicker", mock.Anything).Return([]strikeapi.Rate{
		{Amount: 50000, SourceCurrency: "BTC", TargetCurrency: "USD"},
	}, nil)

	// 1.5 BTC plus 100 USD at 50000 USD/BTC
	balance, err := client.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(150200000), balance.AvailableSat)
}

func TestGetInvoiceByPaymentHash(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTestClient(t, svc, gateway, tests.DefaultSettings())

	require.NoError(t, svc.DB.Create(&db.ReceiveRequest{
		TenantId:       client.TenantId(),
		RequestId:      "inv-1",
		PaymentRequest: tests.MockBolt11Invoice,
		PaymentHash:    tests.MockPaymentHash,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}).Error)

	invoice, err := client.GetInvoiceByPaymentHash(ctx, tests.MockPaymentHash)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, "inv-1", invoice.Id)

	invoice, err = client.GetInvoiceByPaymentHash(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, invoice)
}
