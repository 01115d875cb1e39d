package strike

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marfusios/strike-lightning-bridge/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	logger.Init("4")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-api-key", server.URL)
}

func TestGetInvoicesByIds_QueryShape(t *testing.T) {
	var gotFilter string
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(&InvoiceCollection{
			Items: []Invoice{{InvoiceId: "a", State: InvoiceStatePaid}},
			Count: 1,
		})
	})

	invoices, err := client.GetInvoicesByIds(context.TODO(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, InvoiceStatePaid, invoices[0].State)
	assert.Equal(t, "invoiceId in (a,b,c)", gotFilter)
	assert.Equal(t, "Bearer test-api-key", gotAuth)
}

func TestGetInvoicesByIds_RejectsOversizedBatch(t *testing.T) {
	client := NewClient("test-api-key", "http://127.0.0.1:0")

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "id"
	}
	_, err := client.GetInvoicesByIds(context.TODO(), ids)
	assert.Error(t, err)

	// empty input is not an api call
	invoices, err := client.GetInvoicesByIds(context.TODO(), nil)
	require.NoError(t, err)
	assert.Nil(t, invoices)
}

func TestFindInvoice_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	invoice, err := client.FindInvoice(context.TODO(), "missing")
	require.NoError(t, err)
	assert.Nil(t, invoice)
}

func TestExecuteConversion_IdempotencyKey(t *testing.T) {
	var gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			gotKey = r.Header.Get("idempotency-key")
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "BTC", body["sell"])
			assert.Equal(t, "USD", body["buy"])
			json.NewEncoder(w).Encode(&CurrencyExchangeQuote{Id: "ceq-1"})
		case r.Method == http.MethodPatch:
			assert.Equal(t, "/currency-exchange-quotes/ceq-1/execute", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
		}
	})

	executed, err := client.ExecuteConversion(context.TODO(), "BTC", "USD", 10.5, "key-1")
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, "key-1", gotKey)
}

func TestExecuteConversion_ConflictMeansAlreadyExecuted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"data":{"code":"DUPLICATE_REQUEST","message":"duplicate"}}`))
	})

	executed, err := client.ExecuteConversion(context.TODO(), "BTC", "USD", 10.5, "key-1")
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestUpstreamErrorCarriesDiagnostics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"data":{"code":"INVALID_DATA","message":"amount too small"}}`))
	})

	_, err := client.IssueInvoice(context.TODO(), Amount{Amount: 0.000001, Currency: "BTC"}, "dust")
	require.Error(t, err)
	upstreamErr, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, upstreamErr.StatusCode)
	assert.Equal(t, "INVALID_DATA", upstreamErr.Code)
	assert.Equal(t, "amount too small", upstreamErr.Message)
}

func TestAmountJSONRoundTrip(t *testing.T) {
	var amount Amount
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"10.50","currency":"USD"}`), &amount))
	assert.Equal(t, 10.5, amount.Amount)
	assert.Equal(t, "USD", amount.Currency)
}
