package lnclient

import (
	"context"
	"time"
)

// InvoiceStatus is the status vocabulary exposed to the host platform.
// It is distinct from the Strike API invoice state and from the
// persisted paid/observed flags; translation between the three happens
// in one place (lnclient/strike).
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "UNPAID"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusExpired InvoiceStatus = "EXPIRED"
)

// PaymentStatus is the host-facing status of an outbound payment.
type PaymentStatus string

const (
	PaymentStatusUnknown  PaymentStatus = "UNKNOWN"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusComplete PaymentStatus = "COMPLETE"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

type Invoice struct {
	Id                string
	PaymentRequest    string
	PaymentHash       string
	Preimage          string
	Description       string
	AmountSat         uint64
	AmountReceivedSat uint64
	Status            InvoiceStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
	PaidAt            *time.Time
}

type Payment struct {
	Id             string
	PaymentRequest string
	PaymentHash    string
	AmountSat      uint64
	FeeSat         uint64
	Status         PaymentStatus
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

type Balance struct {
	// Total spendable balance converted into satoshis across all
	// account currencies.
	AvailableSat uint64
}

// InvoiceListener blocks until the next settled invoice for the
// client's tenant becomes available. Safe for a single consumer;
// create one listener per waiting caller.
type InvoiceListener interface {
	// WaitInvoice returns the next settled invoice. It returns a
	// ListenerError after an internal failure (and recovers on the
	// next call) and the context error once ctx is done.
	WaitInvoice(ctx context.Context) (*Invoice, error)
	// Close unsubscribes the listener from the event bus and releases
	// its queue.
	Close()
}

// LNClient is the Lightning capability set the host platform consumes.
type LNClient interface {
	CreateInvoice(ctx context.Context, amountSat uint64, description string, expiry time.Duration) (*Invoice, error)
	GetInvoice(ctx context.Context, requestId string) (*Invoice, error)
	GetInvoiceByPaymentHash(ctx context.Context, paymentHash string) (*Invoice, error)
	ListInvoices(ctx context.Context, pendingOnly bool, offset int) ([]*Invoice, error)
	Pay(ctx context.Context, paymentRequest string) (*Payment, error)
	GetBalance(ctx context.Context) (*Balance, error)
	Listen(ctx context.Context) (InvoiceListener, error)
}
