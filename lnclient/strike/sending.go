package strike

import (
	"context"
	"math"
	"strings"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/lnclient"
	"github.com/Marfusios/strike-lightning-bridge/logger"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

// Pay settles an outbound bolt11 invoice from the account's balance.
// A quote is created in the account currency and executed right away;
// the resulting payment is recorded so it can be looked up by payment
// hash later.
func (sc *StrikeClient) Pay(ctx context.Context, paymentRequest string) (*lnclient.Payment, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return nil, err
	}

	quote, err := sc.gateway.CreatePaymentQuote(ctx, paymentRequest, sc.currency)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("tenant_id", sc.tenantId).
			Str("payment_hash", decoded.PaymentHash).
			Msg("Failed to create payment quote")
		return nil, err
	}

	remotePayment, err := sc.gateway.ExecutePaymentQuote(ctx, quote.PaymentQuoteId)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("tenant_id", sc.tenantId).
			Str("payment_hash", decoded.PaymentHash).
			Msg("Failed to execute payment quote")
		return nil, err
	}

	payment := &db.StrikePayment{
		PaymentId:          remotePayment.PaymentId,
		PaymentRequest:     paymentRequest,
		PaymentHash:        decoded.PaymentHash,
		RequestedAmountSat: uint64(decoded.MSatoshi / 1000),
		TargetAmount:       quote.TotalAmount.Amount,
		TargetCurrency:     quote.TotalAmount.Currency,
		Status:             remotePaymentStatus(remotePayment.State),
	}
	applyFee(payment, remotePayment.TotalFee)
	if payment.FeeAmountSat == nil {
		applyFee(payment, quote.TotalFee)
	}
	if quote.ConversionRate != nil {
		rate := quote.ConversionRate.Amount
		payment.ConversionRate = &rate
	}
	if remotePayment.Completed != "" {
		if completedAt, err := time.Parse(time.RFC3339, remotePayment.Completed); err == nil {
			payment.CompletedAt = &completedAt
		}
	}

	err = sc.store.SavePayment(ctx, payment)
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().
		Str("tenant_id", sc.tenantId).
		Str("payment_id", payment.PaymentId).
		Str("payment_hash", payment.PaymentHash).
		Str("status", payment.Status).
		Msg("Executed outbound payment")

	return paymentFromRecord(payment), nil
}

// applyFee copies a fee amount onto the payment record, in satoshis
// when the fee is BTC denominated and verbatim otherwise.
func applyFee(payment *db.StrikePayment, fee *strikeapi.Amount) {
	if fee == nil {
		return
	}
	currency := strings.ToUpper(fee.Currency)
	if currency == currencyBtc {
		feeSat := uint64(math.Round(fee.Amount * 1e8))
		payment.FeeAmountSat = &feeSat
		return
	}
	feeAmount := fee.Amount
	payment.FeeAmount = &feeAmount
	payment.FeeCurrency = &currency
}
