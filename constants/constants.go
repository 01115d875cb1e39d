package constants

import "time"

// shared constants used by multiple packages

const (
	// Status of an outbound payment as last observed on the Strike API.
	PAYMENT_STATUS_UNKNOWN  = "UNKNOWN"
	PAYMENT_STATUS_PENDING  = "PENDING"
	PAYMENT_STATUS_COMPLETE = "COMPLETE"
	PAYMENT_STATUS_FAILED   = "FAILED"
)

const (
	// Strike allows at most 100 ids per invoice filter query. Hard
	// upstream limit, not tunable.
	INVOICE_QUERY_BATCH_SIZE = 100

	// Delay between reconciliation cycles when nothing changed.
	RECONCILER_POLL_INTERVAL = 1 * time.Second
	// Upper bound of the random jitter added to each poll interval.
	RECONCILER_POLL_JITTER = 250 * time.Millisecond
	// Pause after a failed reconciliation cycle before the next one.
	RECONCILER_ERROR_COOLDOWN = 5 * time.Second
	// Consecutive failed cycles before the unhealthy event is published.
	RECONCILER_MAX_CONSECUTIVE_FAILURES = 10

	// How often a blocked listener re-checks the store when no settle
	// event arrived through the bus.
	LISTENER_FALLBACK_POLL_INTERVAL = 1 * time.Second
	// Pause after an internal listener failure before the next attempt.
	LISTENER_ERROR_COOLDOWN = 5 * time.Second
)

// internal event names published on the event bus
const (
	EVENT_PAYMENT_SETTLED        = "strike_payment_settled"
	EVENT_REQUEST_EXPIRED        = "strike_request_expired"
	EVENT_CONVERSION_EXECUTED    = "strike_conversion_executed"
	EVENT_RECONCILER_UNHEALTHY   = "strike_reconciler_unhealthy"
	EVENT_HOST_INVOICE_COMPLETED = "host_invoice_completed"
	EVENT_HOST_INVOICE_EXPIRED   = "host_invoice_expired"
	EVENT_BRIDGE_STARTED         = "bridge_started"
	EVENT_BRIDGE_STOPPED         = "bridge_stopped"
)

// keys understood in the tenant connection configuration map
const (
	CONNECTION_KEY_TYPE      = "type"
	CONNECTION_KEY_API_KEY   = "api-key"
	CONNECTION_KEY_CURRENCY  = "currency"
	CONNECTION_KEY_SERVER    = "server"
	CONNECTION_KEY_CONVERT   = "convert-to"
	CONNECTION_TYPE_STRIKE   = "strike"
	CONNECTION_CURRENCY_FIAT = "fiat"
)
