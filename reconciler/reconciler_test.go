package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Marfusios/strike-lightning-bridge/config"
	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/events"
	lnstrike "github.com/Marfusios/strike-lightning-bridge/lnclient/strike"
	"github.com/Marfusios/strike-lightning-bridge/registry"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
	"github.com/Marfusios/strike-lightning-bridge/tests"
	"github.com/Marfusios/strike-lightning-bridge/tests/mocks"
)

type captureSubscriber struct {
	ch chan *events.Event
}

func newCaptureSubscriber() *captureSubscriber {
	return &captureSubscriber{ch: make(chan *events.Event, 10)}
}

func (c *captureSubscriber) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	c.ch <- event
}

func (c *captureSubscriber) next(t *testing.T, eventName string) *events.Event {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-c.ch:
			if event.Event == eventName {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", eventName)
			return nil
		}
	}
}

func createTenantClient(t *testing.T, svc *tests.TestService, gateway *mocks.Gateway, apiKey string) *lnstrike.StrikeClient {
	gateway.On("GetBalances", mock.Anything).Return([]strikeapi.Balance{
		{Currency: "BTC", Available: 1, Total: 1},
	}, nil)

	settings := &config.StrikeSettings{ApiKey: apiKey, Currency: "BTC"}
	client, err := lnstrike.NewStrikeClient(context.TODO(), settings, gateway, svc.DB, svc.EventPublisher)
	require.NoError(t, err)
	return client
}

func createRequest(t *testing.T, svc *tests.TestService, tenantId string, requestId string, mutate func(*db.ReceiveRequest)) *db.ReceiveRequest {
	request := &db.ReceiveRequest{
		TenantId:           tenantId,
		RequestId:          requestId,
		PaymentRequest:     tests.MockBolt11Invoice,
		PaymentHash:        "hash-" + requestId,
		RequestedAmountSat: 21000,
		TargetAmount:       0.00021,
		TargetCurrency:     "BTC",
		CreatedAt:          time.Now(),
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(request)
	}
	require.NoError(t, svc.DB.Create(request).Error)
	return request
}

func TestReconcileCycle_SettlesPaidInvoice(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)
	createRequest(t, svc, client.TenantId(), "req-1", nil)

	capture := newCaptureSubscriber()
	svc.EventPublisher.RegisterSubscriber(capture)

	gateway.On("GetInvoicesByIds", mock.Anything, []string{"req-1"}).
		Return([]strikeapi.Invoice{
			{InvoiceId: "req-1", State: strikeapi.InvoiceStatePaid, Amount: strikeapi.Amount{Amount: 0.00021, Currency: "BTC"}},
		}, nil)
	gateway.On("GetReceiveSettlement", mock.Anything, "req-1").
		Return(&strikeapi.ReceiveSettlement{
			Preimage:       "pre",
			CounterpartyId: "counterparty",
			AmountReceived: strikeapi.Amount{Amount: 0.00021, Currency: "BTC"},
		}, nil)

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Paid)
	assert.True(t, request.Observed)
	assert.Equal(t, "pre", *request.Preimage)
	assert.Equal(t, uint64(21000), *request.SettledAmountSat)

	event := capture.next(t, constants.EVENT_PAYMENT_SETTLED)
	properties := event.Properties.(*events.PaymentSettledProperties)
	assert.Equal(t, client.TenantId(), properties.TenantId)
	assert.Equal(t, "req-1", properties.Request.RequestId)

	// next cycle has nothing outstanding and must not settle again
	changed, err = r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	gateway.AssertNumberOfCalls(t, "GetInvoicesByIds", 1)
}

func TestReconcileCycle_EventualSettlement(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)
	createRequest(t, svc, client.TenantId(), "req-1", nil)

	gateway.On("GetInvoicesByIds", mock.Anything, []string{"req-1"}).
		Return([]strikeapi.Invoice{{InvoiceId: "req-1", State: strikeapi.InvoiceStateUnpaid}}, nil).Once()
	gateway.On("GetInvoicesByIds", mock.Anything, []string{"req-1"}).
		Return([]strikeapi.Invoice{{InvoiceId: "req-1", State: strikeapi.InvoiceStatePending}}, nil).Once()
	gateway.On("GetInvoicesByIds", mock.Anything, []string{"req-1"}).
		Return([]strikeapi.Invoice{{InvoiceId: "req-1", State: strikeapi.InvoiceStatePaid}}, nil).Once()
	gateway.On("GetReceiveSettlement", mock.Anything, "req-1").
		Return(&strikeapi.ReceiveSettlement{Preimage: "pre"}, nil)

	listener, err := client.Listen(ctx)
	require.NoError(t, err)
	defer listener.Close()

	waitCtx, cancelWait := context.WithTimeout(ctx, 5*time.Second)
	defer cancelWait()
	delivered := make(chan string, 1)
	go func() {
		invoice, err := listener.WaitInvoice(waitCtx)
		if err == nil {
			delivered <- invoice.Id
		}
		close(delivered)
	}()

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)

	// unpaid and pending cycles leave the request outstanding
	for i := 0; i < 2; i++ {
		changed, err := r.reconcileCycle(ctx)
		require.NoError(t, err)
		assert.False(t, changed)

		request, err := client.Store().FindByRequestId(ctx, "req-1")
		require.NoError(t, err)
		assert.False(t, request.Paid)
		assert.False(t, request.Observed)
	}

	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Paid)

	// the blocked listener receives exactly one delivery
	assert.Equal(t, "req-1", <-delivered)
	_, open := <-delivered
	assert.False(t, open)

	// the settled request must not appear in later batch queries
	changed, err = r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	gateway.AssertNumberOfCalls(t, "GetInvoicesByIds", 3)
	gateway.AssertExpectations(t)
}

func TestReconcileCycle_TerminalUnpaidStopsPolling(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)
	createRequest(t, svc, client.TenantId(), "req-1", nil)

	gateway.On("GetInvoicesByIds", mock.Anything, []string{"req-1"}).
		Return([]strikeapi.Invoice{
			{InvoiceId: "req-1", State: strikeapi.InvoiceStateCanceled},
		}, nil)

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Observed)
	assert.False(t, request.Paid)
}

func TestReconcileCycle_ExpiredRequest(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)
	createRequest(t, svc, client.TenantId(), "req-1", func(r *db.ReceiveRequest) {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	})

	capture := newCaptureSubscriber()
	svc.EventPublisher.RegisterSubscriber(capture)

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Observed)
	assert.False(t, request.Paid)

	capture.next(t, constants.EVENT_REQUEST_EXPIRED)
	gateway.AssertNotCalled(t, "GetInvoicesByIds", mock.Anything, mock.Anything)
}

func TestReconcileCycle_BatchesLargeTenants(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)

	for i := 0; i < 250; i++ {
		createRequest(t, svc, client.TenantId(), fmt.Sprintf("req-%03d", i), nil)
	}

	gateway.On("GetInvoicesByIds", mock.Anything, mock.MatchedBy(func(ids []string) bool {
		return len(ids) == 100
	})).Return([]strikeapi.Invoice{}, nil).Twice()
	gateway.On("GetInvoicesByIds", mock.Anything, mock.MatchedBy(func(ids []string) bool {
		return len(ids) == 50
	})).Return([]strikeapi.Invoice{}, nil).Once()

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	gateway.AssertExpectations(t)
}

func TestConvert_ExactlyOnce(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)

	convertTo := "USD"
	now := time.Now()
	createRequest(t, svc, client.TenantId(), "req-1", func(r *db.ReceiveRequest) {
		r.Paid = true
		r.Observed = true
		r.PaidAt = &now
		r.ConvertTo = &convertTo
	})

	capture := newCaptureSubscriber()
	svc.EventPublisher.RegisterSubscriber(capture)

	expectedKey := uuid.NewSHA1(uuid.NameSpaceURL, []byte("strike-bridge/conversion/req-1")).String()
	gateway.On("ExecuteConversion", mock.Anything, "BTC", "USD", 0.00021, expectedKey).
		Return(true, nil).Once()

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Converted)

	capture.next(t, constants.EVENT_CONVERSION_EXECUTED)

	// the converted flag keeps later cycles away from the exchange
	changed, err = r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	gateway.AssertNumberOfCalls(t, "ExecuteConversion", 1)
}

func TestConvert_SameCurrencySkipsExchange(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)

	convertTo := "BTC"
	now := time.Now()
	createRequest(t, svc, client.TenantId(), "req-1", func(r *db.ReceiveRequest) {
		r.Paid = true
		r.Observed = true
		r.PaidAt = &now
		r.ConvertTo = &convertTo
	})

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	_, err = r.reconcileCycle(ctx)
	require.NoError(t, err)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Converted)
	gateway.AssertNotCalled(t, "ExecuteConversion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConvert_UpstreamFailureRetriesNextCycle(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)

	convertTo := "USD"
	now := time.Now()
	createRequest(t, svc, client.TenantId(), "req-1", func(r *db.ReceiveRequest) {
		r.Paid = true
		r.Observed = true
		r.PaidAt = &now
		r.ConvertTo = &convertTo
	})

	gateway.On("ExecuteConversion", mock.Anything, "BTC", "USD", 0.00021, mock.Anything).
		Return(false, errors.New("upstream down")).Once()
	gateway.On("ExecuteConversion", mock.Anything, "BTC", "USD", 0.00021, mock.Anything).
		Return(true, nil).Once()

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	_, err = r.reconcileCycle(ctx)
	require.NoError(t, err)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, request.Converted)

	_, err = r.reconcileCycle(ctx)
	require.NoError(t, err)

	request, err = client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Converted)
	gateway.AssertExpectations(t)
}

func TestReconcileCycle_ExpiredRequestUnregisteredTenant(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	createRequest(t, svc, "unregistered-tenant", "req-1", func(r *db.ReceiveRequest) {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	})

	capture := newCaptureSubscriber()
	svc.EventPublisher.RegisterSubscriber(capture)

	// no client registered for the tenant; expiry must close the
	// request anyway instead of re-fetching it forever
	r := NewReconciler(svc.DB, registry.NewRegistry(), svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	capture.next(t, constants.EVENT_REQUEST_EXPIRED)

	outstanding, err := r.store.GetOutstandingForAllTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, outstanding)

	changed, err = r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileCycle_UnknownTenantSkipped(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	createRequest(t, svc, "unregistered-tenant", "req-1", nil)

	r := NewReconciler(svc.DB, registry.NewRegistry(), svc.EventPublisher, time.Second)
	changed, err := r.reconcileCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestConsumeEvent_HostInvoiceExpired(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)
	createRequest(t, svc, client.TenantId(), "req-1", nil)

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	r.ConsumeEvent(ctx, &events.Event{
		Event: constants.EVENT_HOST_INVOICE_EXPIRED,
		Properties: &events.HostInvoiceExpiredProperties{
			TenantId:  client.TenantId(),
			RequestId: "req-1",
		},
	}, nil)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Observed)
}

func TestConsumeEvent_HostInvoiceCompletedTriggersConversion(t *testing.T) {
	ctx := context.TODO()
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	gateway := mocks.NewGateway()
	client := createTenantClient(t, svc, gateway, "key-a")
	reg := registry.NewRegistry()
	reg.Set(client)

	convertTo := "USD"
	now := time.Now()
	createRequest(t, svc, client.TenantId(), "req-1", func(r *db.ReceiveRequest) {
		r.Paid = true
		r.Observed = true
		r.PaidAt = &now
		r.ConvertTo = &convertTo
	})

	expectedKey := uuid.NewSHA1(uuid.NameSpaceURL, []byte("strike-bridge/conversion/req-1")).String()
	gateway.On("ExecuteConversion", mock.Anything, "BTC", "USD", 0.00021, expectedKey).
		Return(true, nil).Once()

	r := NewReconciler(svc.DB, reg, svc.EventPublisher, time.Second)
	r.ConsumeEvent(ctx, &events.Event{
		Event: constants.EVENT_HOST_INVOICE_COMPLETED,
		Properties: &events.HostInvoiceCompletedProperties{
			TenantId:  client.TenantId(),
			RequestId: "req-1",
		},
	}, nil)

	request, err := client.Store().FindByRequestId(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, request.Converted)

	// already converted, a duplicate notification is a no-op
	r.ConsumeEvent(ctx, &events.Event{
		Event: constants.EVENT_HOST_INVOICE_COMPLETED,
		Properties: &events.HostInvoiceCompletedProperties{
			TenantId:  client.TenantId(),
			RequestId: "req-1",
		},
	}, nil)
	gateway.AssertNumberOfCalls(t, "ExecuteConversion", 1)
}

func TestRecordCycle_PublishesUnhealthyOnce(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	capture := newCaptureSubscriber()
	svc.EventPublisher.RegisterSubscriber(capture)

	r := NewReconciler(svc.DB, registry.NewRegistry(), svc.EventPublisher, time.Second)
	for i := 0; i < constants.RECONCILER_MAX_CONSECUTIVE_FAILURES; i++ {
		assert.True(t, r.Health().Healthy)
		r.recordCycle(errors.New("boom"))
	}
	assert.False(t, r.Health().Healthy)

	event := capture.next(t, constants.EVENT_RECONCILER_UNHEALTHY)
	properties := event.Properties.(*events.ReconcilerUnhealthyProperties)
	assert.Equal(t, constants.RECONCILER_MAX_CONSECUTIVE_FAILURES, properties.ConsecutiveFailures)

	// recovery resets the counter
	r.recordCycle(nil)
	assert.True(t, r.Health().Healthy)
	assert.Zero(t, r.Health().ConsecutiveFailures)
}
