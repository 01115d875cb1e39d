package strike

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/lnclient"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

// translateInvoiceStatus maps a remote invoice state onto the
// host-facing vocabulary. PENDING still reports UNPAID because the
// funds are not settled yet; any terminal non-paid state, and an
// elapsed expiry, report EXPIRED.
func translateInvoiceStatus(state strikeapi.InvoiceState, expiresAt time.Time, now time.Time) lnclient.InvoiceStatus {
	if state == strikeapi.InvoiceStatePaid {
		return lnclient.InvoiceStatusPaid
	}
	if state.IsTerminalUnpaid() || !now.Before(expiresAt) {
		return lnclient.InvoiceStatusExpired
	}
	return lnclient.InvoiceStatusUnpaid
}

// requestStatus derives the host-facing status from the persisted
// flags alone. The paid flag wins over expiry: a request settled just
// before its deadline stays PAID forever.
func requestStatus(request *db.ReceiveRequest, now time.Time) lnclient.InvoiceStatus {
	if request.Paid {
		return lnclient.InvoiceStatusPaid
	}
	if request.IsExpired(now) {
		return lnclient.InvoiceStatusExpired
	}
	return lnclient.InvoiceStatusUnpaid
}

func translatePaymentStatus(status string) lnclient.PaymentStatus {
	switch status {
	case constants.PAYMENT_STATUS_PENDING:
		return lnclient.PaymentStatusPending
	case constants.PAYMENT_STATUS_COMPLETE:
		return lnclient.PaymentStatusComplete
	case constants.PAYMENT_STATUS_FAILED:
		return lnclient.PaymentStatusFailed
	}
	return lnclient.PaymentStatusUnknown
}

// remotePaymentStatus maps the Strike payment state strings onto the
// persisted status vocabulary.
func remotePaymentStatus(state string) string {
	switch state {
	case "PENDING":
		return constants.PAYMENT_STATUS_PENDING
	case "COMPLETED":
		return constants.PAYMENT_STATUS_COMPLETE
	case "FAILED":
		return constants.PAYMENT_STATUS_FAILED
	}
	return constants.PAYMENT_STATUS_UNKNOWN
}

func invoiceFromRequest(request *db.ReceiveRequest, now time.Time) *lnclient.Invoice {
	invoice := &lnclient.Invoice{
		Id:             request.RequestId,
		PaymentRequest: request.PaymentRequest,
		PaymentHash:    request.PaymentHash,
		Description:    request.Description,
		AmountSat:      request.RequestedAmountSat,
		Status:         requestStatus(request, now),
		CreatedAt:      request.CreatedAt,
		ExpiresAt:      request.ExpiresAt,
		PaidAt:         request.PaidAt,
	}
	if request.Preimage != nil {
		invoice.Preimage = *request.Preimage
	}
	if request.SettledAmountSat != nil {
		invoice.AmountReceivedSat = *request.SettledAmountSat
	}
	return invoice
}

func paymentFromRecord(payment *db.StrikePayment) *lnclient.Payment {
	result := &lnclient.Payment{
		Id:             payment.PaymentId,
		PaymentRequest: payment.PaymentRequest,
		PaymentHash:    payment.PaymentHash,
		AmountSat:      payment.RequestedAmountSat,
		Status:         translatePaymentStatus(payment.Status),
		CreatedAt:      payment.CreatedAt,
		CompletedAt:    payment.CompletedAt,
	}
	if payment.FeeAmountSat != nil {
		result.FeeSat = *payment.FeeAmountSat
	}
	return result
}

// normalizeDescription extracts the plain-text description out of
// LNURL pay metadata and returns its hash for the bolt11 description
// hash field. A non-metadata description passes through unchanged.
func normalizeDescription(description string) (plain string, descriptionHash string) {
	var metadata [][]interface{}
	if err := json.Unmarshal([]byte(description), &metadata); err != nil || len(metadata) == 0 {
		return description, ""
	}

	hash := sha256.Sum256([]byte(description))
	descriptionHash = hex.EncodeToString(hash[:])

	for _, entry := range metadata {
		if len(entry) < 2 {
			continue
		}
		kind, ok := entry[0].(string)
		if !ok || kind != "text/plain" {
			continue
		}
		if text, ok := entry[1].(string); ok {
			return text, descriptionHash
		}
	}
	return "", descriptionHash
}
