package db

import (
	"time"

	"gorm.io/datatypes"
)

// ReceiveRequest is a payment request issued on the Strike API on
// behalf of a tenant. It is never deleted; the reconciler flips Paid
// and Observed exactly once each.
type ReceiveRequest struct {
	ID             uint
	TenantId       string `validate:"required" gorm:"uniqueIndex:idx_receive_requests_tenant_request;index"`
	RequestId      string `validate:"required" gorm:"uniqueIndex:idx_receive_requests_tenant_request"`
	PaymentRequest string
	PaymentHash    string `gorm:"index"`
	Preimage       *string
	CounterpartyId *string
	Description    string

	// Amount requested by the host platform, in satoshis.
	RequestedAmountSat uint64
	// Amount credited at settlement, in satoshis.
	SettledAmountSat *uint64
	// Amount and denomination the account actually settles in; may be fiat.
	TargetAmount   float64
	TargetCurrency string
	// Conversion rate recorded when the target amount is fiat.
	ConversionRate *float64
	// Currency to convert into once paid; nil means no conversion.
	ConvertTo *string
	Converted bool

	Paid     bool
	Observed bool `gorm:"index"`
	// Whether a listener already handed the settled request to the
	// host platform. Keeps concurrent waiters from double delivery.
	Delivered bool

	CreatedAt time.Time `gorm:"index"`
	ExpiresAt time.Time
	PaidAt    *time.Time `gorm:"index"`
	UpdatedAt time.Time

	Metadata datatypes.JSON
}

// IsExpired reports whether the request can no longer be paid. A paid
// request is never expired, regardless of its expiry timestamp.
func (r *ReceiveRequest) IsExpired(now time.Time) bool {
	return !r.Paid && now.After(r.ExpiresAt)
}

// StrikePayment is an outbound Lightning payment executed through the
// Strike API for a tenant. Created when a send is initiated, updated
// when its status is discovered, never deleted.
type StrikePayment struct {
	ID             uint
	TenantId       string `validate:"required" gorm:"index"`
	PaymentId      string `validate:"required" gorm:"index"`
	PaymentRequest string
	PaymentHash    string `gorm:"index"`

	RequestedAmountSat uint64
	TargetAmount       float64
	TargetCurrency     string
	FeeAmountSat       *uint64
	FeeAmount          *float64
	FeeCurrency        *string
	ConversionRate     *float64

	Status string

	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
