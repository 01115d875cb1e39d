package strike

import (
	"context"
	"sync"
	"time"

	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/events"
	"github.com/Marfusios/strike-lightning-bridge/lnclient"
	"github.com/Marfusios/strike-lightning-bridge/logger"
)

// Listen subscribes a new listener to the event bus and returns it.
// Settlement events for this tenant wake the listener immediately;
// between events it falls back to polling the store, so settlements
// that happened while nobody was waiting are still delivered.
func (sc *StrikeClient) Listen(ctx context.Context) (lnclient.InvoiceListener, error) {
	listener := &Listener{
		client: sc,
		queue:  make(chan string, 100),
		closed: make(chan struct{}),
	}
	sc.eventPublisher.RegisterSubscriber(listener)
	return listener, nil
}

type Listener struct {
	client    *StrikeClient
	queue     chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *Listener) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	if event.Event != constants.EVENT_PAYMENT_SETTLED {
		return
	}
	properties, ok := event.Properties.(*events.PaymentSettledProperties)
	if !ok || properties.TenantId != l.client.tenantId {
		return
	}

	select {
	case l.queue <- properties.Request.RequestId:
	default:
		// queue full; the store fallback will pick the request up
		logger.Logger.Warn().
			Str("tenant_id", l.client.tenantId).
			Str("request_id", properties.Request.RequestId).
			Msg("Listener queue full, dropping settle notification")
	}
}

// WaitInvoice blocks until a settled, not yet delivered request for
// this tenant is claimed by this listener. When several listeners
// wait concurrently, each settlement is delivered to exactly one of
// them.
func (l *Listener) WaitInvoice(ctx context.Context) (*lnclient.Invoice, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.closed:
			return nil, lnclient.NewListenerError(context.Canceled)
		default:
		}

		invoice, err := l.claimNext(ctx)
		if err != nil {
			logger.Logger.Warn().Err(err).
				Str("tenant_id", l.client.tenantId).
				Msg("Listener failed to check for settled requests, cooling down")
			select {
			case <-time.After(constants.LISTENER_ERROR_COOLDOWN):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, lnclient.NewListenerError(err)
		}
		if invoice != nil {
			return invoice, nil
		}

		select {
		case <-l.queue:
			// woken by a settle event; claim on the next iteration
		case <-time.After(constants.LISTENER_FALLBACK_POLL_INTERVAL):
		case <-l.closed:
			return nil, lnclient.NewListenerError(context.Canceled)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// claimNext picks the oldest settled undelivered request and tries to
// claim it. Returns nil when there is nothing to deliver or another
// listener claimed the request first.
func (l *Listener) claimNext(ctx context.Context) (*lnclient.Invoice, error) {
	request, err := l.client.store.FindPaidUndelivered(ctx)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, nil
	}

	claimed, err := l.client.store.MarkDelivered(ctx, request.RequestId)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	logger.Logger.Info().
		Str("tenant_id", l.client.tenantId).
		Str("request_id", request.RequestId).
		Msg("Delivering settled invoice to listener")
	return invoiceFromRequest(request, time.Now()), nil
}

func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		l.client.eventPublisher.RemoveSubscriber(l)
		close(l.closed)
	})
}
