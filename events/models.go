package events

import "github.com/Marfusios/strike-lightning-bridge/db"

// PaymentSettledProperties is published when the reconciler discovers
// that a receive request was paid. TenantId is carried explicitly so
// subscribers can filter without inspecting the request.
type PaymentSettledProperties struct {
	TenantId string
	Request  *db.ReceiveRequest
}

// RequestExpiredProperties is published when an outstanding request
// expires unpaid and polling for it stops.
type RequestExpiredProperties struct {
	TenantId string
	Request  *db.ReceiveRequest
}

// ConversionExecutedProperties is published after a post-settlement
// currency conversion succeeded upstream.
type ConversionExecutedProperties struct {
	TenantId  string
	RequestId string
	Sell      string
	Buy       string
	Amount    float64
}

// ReconcilerUnhealthyProperties signals the operator that the polling
// loop keeps failing. The loop itself keeps running.
type ReconcilerUnhealthyProperties struct {
	ConsecutiveFailures int
	LastError           string
}

// HostInvoiceCompletedProperties is published once a listener handed
// a settled request over to the host platform.
type HostInvoiceCompletedProperties struct {
	TenantId  string
	RequestId string
}

// HostInvoiceExpiredProperties is the payload the host platform
// publishes when one of its invoices expires; the reconciler uses it
// to stop polling the matching request.
type HostInvoiceExpiredProperties struct {
	TenantId  string
	RequestId string
}
