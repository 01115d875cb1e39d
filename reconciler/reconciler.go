// Package reconciler runs the polling loop that drives every receive
// request to a terminal state. It is the only writer of the paid,
// observed and converted flags after a request is created: clients
// insert requests and the reconciler takes it from there.
package reconciler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/events"
	lnstrike "github.com/Marfusios/strike-lightning-bridge/lnclient/strike"
	"github.com/Marfusios/strike-lightning-bridge/logger"
	"github.com/Marfusios/strike-lightning-bridge/registry"
	"github.com/Marfusios/strike-lightning-bridge/store"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

// capped batch the conversion safety net rescans per cycle
const unconvertedRescanLimit = 20

type Reconciler struct {
	store          *store.Store
	registry       *registry.Registry
	eventPublisher events.EventPublisher
	pollInterval   time.Duration

	healthMtx           sync.RWMutex
	consecutiveFailures int
	lastError           string
	lastCycleAt         time.Time
}

type Health struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastCycleAt         time.Time `json:"lastCycleAt"`
}

func NewReconciler(gormDB *gorm.DB, reg *registry.Registry, eventPublisher events.EventPublisher, pollInterval time.Duration) *Reconciler {
	if pollInterval <= 0 {
		pollInterval = constants.RECONCILER_POLL_INTERVAL
	}
	return &Reconciler{
		store:          store.NewStore(gormDB, ""),
		registry:       reg,
		eventPublisher: eventPublisher,
		pollInterval:   pollInterval,
	}
}

// Start sweeps the stale backlog, subscribes for host expiry
// notifications and launches the polling loop. The loop stops when
// ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	swept, err := r.store.CleanupExpired(ctx, time.Now())
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to sweep expired requests at startup")
	} else if swept > 0 {
		logger.Logger.Info().Int64("count", swept).Msg("Swept expired receive requests at startup")
	}

	r.eventPublisher.RegisterSubscriber(r)

	go func() {
		for {
			changed, err := r.reconcileCycle(ctx)
			if ctx.Err() != nil {
				return
			}
			r.recordCycle(err)

			var delay time.Duration
			switch {
			case err != nil:
				delay = constants.RECONCILER_ERROR_COOLDOWN
			case changed:
				// something moved; the next state change is likely
				// right behind it
				continue
			default:
				delay = r.pollInterval + jitter()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(constants.RECONCILER_POLL_JITTER)))
}

func (r *Reconciler) recordCycle(err error) {
	r.healthMtx.Lock()
	defer r.healthMtx.Unlock()
	r.lastCycleAt = time.Now()
	if err == nil {
		r.consecutiveFailures = 0
		r.lastError = ""
		return
	}
	r.consecutiveFailures++
	r.lastError = err.Error()
	if r.consecutiveFailures == constants.RECONCILER_MAX_CONSECUTIVE_FAILURES {
		logger.Logger.Error().Err(err).
			Int("consecutive_failures", r.consecutiveFailures).
			Msg("Reconciler keeps failing")
		r.eventPublisher.Publish(&events.Event{
			Event: constants.EVENT_RECONCILER_UNHEALTHY,
			Properties: &events.ReconcilerUnhealthyProperties{
				ConsecutiveFailures: r.consecutiveFailures,
				LastError:           r.lastError,
			},
		})
	}
}

func (r *Reconciler) Health() Health {
	r.healthMtx.RLock()
	defer r.healthMtx.RUnlock()
	return Health{
		Healthy:             r.consecutiveFailures < constants.RECONCILER_MAX_CONSECUTIVE_FAILURES,
		ConsecutiveFailures: r.consecutiveFailures,
		LastError:           r.lastError,
		LastCycleAt:         r.lastCycleAt,
	}
}

// reconcileCycle processes every outstanding request once. It reports
// whether any request changed state, so the caller can poll again
// immediately instead of sleeping.
func (r *Reconciler) reconcileCycle(ctx context.Context) (bool, error) {
	outstanding, err := r.store.GetOutstandingForAllTenants(ctx)
	if err != nil {
		return false, err
	}

	// expiry needs neither a gateway nor a registered client, so it
	// runs before tenant grouping and closes requests of unregistered
	// tenants too
	active, changed, err := r.closeExpired(ctx, outstanding)
	if err != nil {
		return changed, err
	}

	byTenant := map[string][]db.ReceiveRequest{}
	for _, request := range active {
		byTenant[request.TenantId] = append(byTenant[request.TenantId], request)
	}

	var firstErr error
	for tenantId, requests := range byTenant {
		client, ok := r.registry.Get(tenantId)
		if !ok {
			logger.Logger.Warn().
				Str("tenant_id", tenantId).
				Int("requests", len(requests)).
				Msg("No client registered for tenant, skipping its requests")
			continue
		}
		tenantChanged, err := r.reconcileTenant(ctx, client, requests)
		changed = changed || tenantChanged
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	converted, err := r.convertSettled(ctx)
	changed = changed || converted
	if err != nil && firstErr == nil {
		firstErr = err
	}
	return changed, firstErr
}

// closeExpired marks every expired request observed, regardless of
// whether its tenant has a registered client, and returns the
// requests still worth polling.
func (r *Reconciler) closeExpired(ctx context.Context, outstanding []db.ReceiveRequest) ([]db.ReceiveRequest, bool, error) {
	now := time.Now()
	changed := false

	active := make([]db.ReceiveRequest, 0, len(outstanding))
	for _, request := range outstanding {
		if !request.IsExpired(now) {
			active = append(active, request)
			continue
		}
		scoped := r.store.WithTenant(request.TenantId)
		if err := scoped.MarkObserved(ctx, request.RequestId); err != nil {
			return active, changed, err
		}
		changed = true
		logger.Logger.Info().
			Str("tenant_id", request.TenantId).
			Str("request_id", request.RequestId).
			Msg("Receive request expired unpaid")
		expired := request
		r.eventPublisher.Publish(&events.Event{
			Event: constants.EVENT_REQUEST_EXPIRED,
			Properties: &events.RequestExpiredProperties{
				TenantId: request.TenantId,
				Request:  &expired,
			},
		})
	}
	return active, changed, nil
}

func (r *Reconciler) reconcileTenant(ctx context.Context, client *lnstrike.StrikeClient, requests []db.ReceiveRequest) (bool, error) {
	tenantStore := client.Store()
	changed := false

	byId := make(map[string]db.ReceiveRequest, len(requests))
	ids := make([]string, 0, len(requests))
	for _, request := range requests {
		byId[request.RequestId] = request
		ids = append(ids, request.RequestId)
	}

	gateway := client.Gateway()
	for start := 0; start < len(ids); start += constants.INVOICE_QUERY_BATCH_SIZE {
		end := start + constants.INVOICE_QUERY_BATCH_SIZE
		if end > len(ids) {
			end = len(ids)
		}
		remoteInvoices, err := gateway.GetInvoicesByIds(ctx, ids[start:end])
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("tenant_id", client.TenantId()).
				Int("batch_size", end-start).
				Msg("Failed to query invoice batch")
			return changed, err
		}

		for _, remote := range remoteInvoices {
			request, ok := byId[remote.InvoiceId]
			if !ok {
				continue
			}
			switch {
			case remote.State == strikeapi.InvoiceStatePaid:
				settled, err := r.settle(ctx, client, &request, &remote)
				if err != nil {
					return changed, err
				}
				changed = changed || settled
			case remote.State.IsTerminalUnpaid():
				if err := tenantStore.MarkObserved(ctx, request.RequestId); err != nil {
					return changed, err
				}
				changed = true
				logger.Logger.Info().
					Str("tenant_id", client.TenantId()).
					Str("request_id", request.RequestId).
					Str("state", string(remote.State)).
					Msg("Receive request terminally unpaid, stopping polling")
			}
		}
	}
	return changed, nil
}

// settle copies the settlement details from the remote invoice onto
// the stored request and flips it to paid. Publishes the settle event
// only when this call performed the transition.
func (r *Reconciler) settle(ctx context.Context, client *lnstrike.StrikeClient, request *db.ReceiveRequest, remote *strikeapi.Invoice) (bool, error) {
	update := store.SettlementUpdate{}
	if remote.Amount.Amount > 0 {
		targetAmount := remote.Amount.Amount
		targetCurrency := remote.Amount.Currency
		update.TargetAmount = &targetAmount
		update.TargetCurrency = &targetCurrency
	}

	settlement, err := client.Gateway().GetReceiveSettlement(ctx, request.RequestId)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("tenant_id", client.TenantId()).
			Str("request_id", request.RequestId).
			Msg("Failed to fetch receive settlement details, settling without them")
	} else if settlement != nil {
		if settlement.Preimage != "" {
			preimage := settlement.Preimage
			update.Preimage = &preimage
		}
		if settlement.CounterpartyId != "" {
			counterpartyId := settlement.CounterpartyId
			update.CounterpartyId = &counterpartyId
		}
		if settlement.AmountReceived.Currency == "BTC" && settlement.AmountReceived.Amount > 0 {
			settledSat := uint64(math.Round(settlement.AmountReceived.Amount * 1e8))
			update.SettledAmountSat = &settledSat
		}
	}

	refreshed, settled, err := client.Store().MarkSettled(ctx, request.RequestId, update)
	if err != nil {
		return false, err
	}
	if !settled {
		return false, nil
	}

	r.eventPublisher.Publish(&events.Event{
		Event: constants.EVENT_PAYMENT_SETTLED,
		Properties: &events.PaymentSettledProperties{
			TenantId: client.TenantId(),
			Request:  refreshed,
		},
	})

	if err := r.convert(ctx, client, refreshed); err != nil {
		// the unconverted rescan retries on later cycles
		logger.Logger.Warn().Err(err).
			Str("request_id", request.RequestId).
			Msg("Post-settlement conversion failed, will retry")
	}
	return true, nil
}

// convertSettled is the safety net behind the settle-time conversion:
// it retries settled requests whose conversion did not go through.
func (r *Reconciler) convertSettled(ctx context.Context) (bool, error) {
	requests, err := r.store.GetPaidUnconverted(ctx, unconvertedRescanLimit)
	if err != nil {
		return false, err
	}

	changed := false
	for i := range requests {
		request := &requests[i]
		client, ok := r.registry.Get(request.TenantId)
		if !ok {
			continue
		}
		if err := r.convert(ctx, client, request); err != nil {
			logger.Logger.Warn().Err(err).
				Str("request_id", request.RequestId).
				Msg("Conversion retry failed")
			continue
		}
		changed = true
	}
	return changed, nil
}

// convert executes the post-settlement currency conversion exactly
// once. The idempotency key is derived from the request id, so a
// crash between the upstream call and the converted flag cannot
// double-convert: the retried call is deduplicated upstream.
func (r *Reconciler) convert(ctx context.Context, client *lnstrike.StrikeClient, request *db.ReceiveRequest) error {
	if !request.Paid || request.Converted || request.ConvertTo == nil {
		return nil
	}

	sell := request.TargetCurrency
	buy := *request.ConvertTo
	if sell == buy {
		return client.Store().MarkConverted(ctx, request.RequestId)
	}

	idempotencyKey := uuid.NewSHA1(uuid.NameSpaceURL, []byte("strike-bridge/conversion/"+request.RequestId)).String()
	executed, err := client.Gateway().ExecuteConversion(ctx, sell, buy, request.TargetAmount, idempotencyKey)
	if err != nil {
		return err
	}
	if !executed {
		return nil
	}

	if err := client.Store().MarkConverted(ctx, request.RequestId); err != nil {
		return err
	}

	logger.Logger.Info().
		Str("tenant_id", client.TenantId()).
		Str("request_id", request.RequestId).
		Str("sell", sell).
		Str("buy", buy).
		Float64("amount", request.TargetAmount).
		Msg("Executed post-settlement conversion")

	r.eventPublisher.Publish(&events.Event{
		Event: constants.EVENT_CONVERSION_EXECUTED,
		Properties: &events.ConversionExecutedProperties{
			TenantId:  client.TenantId(),
			RequestId: request.RequestId,
			Sell:      sell,
			Buy:       buy,
			Amount:    request.TargetAmount,
		},
	})
	return nil
}

// ConsumeEvent reacts to notifications from the host platform: an
// expired host invoice stops the polling for its request, a completed
// one nudges the pending conversion instead of waiting for the next
// rescan.
func (r *Reconciler) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	switch event.Event {
	case constants.EVENT_HOST_INVOICE_EXPIRED:
		properties, ok := event.Properties.(*events.HostInvoiceExpiredProperties)
		if !ok {
			return
		}
		r.closeHostExpired(ctx, properties.TenantId, properties.RequestId)
	case constants.EVENT_HOST_INVOICE_COMPLETED:
		properties, ok := event.Properties.(*events.HostInvoiceCompletedProperties)
		if !ok {
			return
		}
		r.convertHostCompleted(ctx, properties.TenantId, properties.RequestId)
	}
}

func (r *Reconciler) closeHostExpired(ctx context.Context, tenantId string, requestId string) {
	scoped := r.store.WithTenant(tenantId)
	err := scoped.MarkObserved(ctx, requestId)
	if err != nil && !store.IsNotFound(err) {
		logger.Logger.Error().Err(err).
			Str("tenant_id", tenantId).
			Str("request_id", requestId).
			Msg("Failed to close request after host invoice expiry")
		return
	}
	if err == nil {
		logger.Logger.Info().
			Str("tenant_id", tenantId).
			Str("request_id", requestId).
			Msg("Stopped polling request after host invoice expiry")
	}
}

func (r *Reconciler) convertHostCompleted(ctx context.Context, tenantId string, requestId string) {
	client, ok := r.registry.Get(tenantId)
	if !ok {
		return
	}
	request, err := client.Store().FindByRequestId(ctx, requestId)
	if err != nil || request == nil {
		return
	}
	if err := r.convert(ctx, client, request); err != nil {
		// the unconverted rescan retries on later cycles
		logger.Logger.Warn().Err(err).
			Str("request_id", requestId).
			Msg("Conversion after host invoice completion failed, will retry")
	}
}
