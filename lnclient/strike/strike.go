// Package strike adapts a single Strike account into the Lightning
// capability set the host platform consumes. Each client is scoped to
// one tenant: it only reads and writes requests carrying its own
// tenant id, and its listener only sees settlement events for that
// tenant.
package strike

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"gorm.io/gorm"

	"github.com/Marfusios/strike-lightning-bridge/config"
	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/events"
	"github.com/Marfusios/strike-lightning-bridge/lnclient"
	"github.com/Marfusios/strike-lightning-bridge/logger"
	"github.com/Marfusios/strike-lightning-bridge/store"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

const currencyBtc = "BTC"

var _ lnclient.LNClient = (*StrikeClient)(nil)

type StrikeClient struct {
	gateway        strikeapi.Gateway
	store          *store.Store
	eventPublisher events.EventPublisher
	tenantId       string

	// account currency invoices are denominated in, with the fiat
	// sentinel already resolved against the account balances
	currency  string
	convertTo string
}

// NewStrikeClient validates the account behind the settings and
// returns a tenant-scoped client. The fiat sentinel in the currency
// settings is resolved here, against the account's balances, so the
// rest of the client only ever sees concrete currency codes.
func NewStrikeClient(ctx context.Context, settings *config.StrikeSettings, gateway strikeapi.Gateway, gormDB *gorm.DB, eventPublisher events.EventPublisher) (*StrikeClient, error) {
	tenantId := settings.TenantId()

	balances, err := gateway.GetBalances(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("tenant_id", tenantId).
			Msg("Failed to verify strike api key")
		return nil, err
	}

	currency, err := resolveCurrency(settings.Currency, balances)
	if err != nil {
		return nil, err
	}
	convertTo := ""
	if settings.ConvertTo != "" {
		convertTo, err = resolveCurrency(settings.ConvertTo, balances)
		if err != nil {
			return nil, err
		}
	}

	logger.Logger.Info().
		Str("tenant_id", tenantId).
		Str("currency", currency).
		Str("convert_to", convertTo).
		Msg("Strike client connected")

	return &StrikeClient{
		gateway:        gateway,
		store:          store.NewStore(gormDB, tenantId),
		eventPublisher: eventPublisher,
		tenantId:       tenantId,
		currency:       currency,
		convertTo:      convertTo,
	}, nil
}

func (sc *StrikeClient) TenantId() string {
	return sc.tenantId
}

func (sc *StrikeClient) Currency() string {
	return sc.currency
}

func (sc *StrikeClient) ConvertTo() string {
	return sc.convertTo
}

// Gateway exposes the underlying API surface for the reconciler,
// which shares this client's connection when polling the tenant.
func (sc *StrikeClient) Gateway() strikeapi.Gateway {
	return sc.gateway
}

// Store exposes the tenant-scoped store backing this client.
func (sc *StrikeClient) Store() *store.Store {
	return sc.store
}

// resolveCurrency maps the fiat sentinel onto the account's fiat
// balance currency. Concrete currency codes pass through uppercased.
func resolveCurrency(currency string, balances []strikeapi.Balance) (string, error) {
	if !strings.EqualFold(currency, constants.CONNECTION_CURRENCY_FIAT) {
		return strings.ToUpper(currency), nil
	}
	for _, balance := range balances {
		if !strings.EqualFold(balance.Currency, currencyBtc) {
			return strings.ToUpper(balance.Currency), nil
		}
	}
	return "", errors.New("account holds no fiat balance to resolve the fiat currency against")
}

// CreateInvoice issues an invoice on the Strike account, obtains its
// bolt11 quote and records the pair as a receive request before
// returning. The record is visible to the reconciler from the moment
// this method returns.
func (sc *StrikeClient) CreateInvoice(ctx context.Context, amountSat uint64, description string, expiry time.Duration) (*lnclient.Invoice, error) {
	amount, err := sc.invoiceAmount(ctx, amountSat)
	if err != nil {
		return nil, err
	}

	plain, descriptionHash := normalizeDescription(description)

	remoteInvoice, err := sc.gateway.IssueInvoice(ctx, amount, plain)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("tenant_id", sc.tenantId).
			Msg("Failed to issue invoice")
		return nil, err
	}

	quote, err := sc.gateway.IssueQuote(ctx, remoteInvoice.InvoiceId, descriptionHash)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("tenant_id", sc.tenantId).
			Str("request_id", remoteInvoice.InvoiceId).
			Msg("Failed to issue bolt11 quote for invoice")
		return nil, err
	}

	decoded, err := decodepay.Decodepay(quote.LnInvoice)
	if err != nil {
		return nil, err
	}
	createdAt := time.Unix(int64(decoded.CreatedAt), 0)
	expiresAt := createdAt.Add(time.Duration(decoded.Expiry) * time.Second)

	request := &db.ReceiveRequest{
		RequestId:          remoteInvoice.InvoiceId,
		PaymentRequest:     quote.LnInvoice,
		PaymentHash:        decoded.PaymentHash,
		Description:        plain,
		RequestedAmountSat: amountSat,
		TargetAmount:       amount.Amount,
		TargetCurrency:     amount.Currency,
		CreatedAt:          createdAt,
		ExpiresAt:          expiresAt,
	}
	if quote.ConversionRate.Amount > 0 {
		rate := quote.ConversionRate.Amount
		request.ConversionRate = &rate
	}
	if sc.convertTo != "" {
		convertTo := sc.convertTo
		request.ConvertTo = &convertTo
	}

	err = sc.store.SaveRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().
		Str("tenant_id", sc.tenantId).
		Str("request_id", request.RequestId).
		Str("payment_hash", request.PaymentHash).
		Uint64("amount_sat", amountSat).
		Msg("Created receive request")

	return invoiceFromRequest(request, time.Now()), nil
}

// invoiceAmount converts the requested satoshi amount into the
// account currency the invoice is denominated in.
func (sc *StrikeClient) invoiceAmount(ctx context.Context, amountSat uint64) (strikeapi.Amount, error) {
	btc := float64(amountSat) / 1e8
	if sc.currency == currencyBtc {
		return strikeapi.Amount{Amount: btc, Currency: currencyBtc}, nil
	}

	rates, err := sc.gateway.GetRatesTicker(ctx)
	if err != nil {
		return strikeapi.Amount{}, err
	}
	for _, rate := range rates {
		if rate.SourceCurrency == currencyBtc && rate.TargetCurrency == sc.currency {
			amount := math.Round(btc*rate.Amount*100) / 100
			if amount <= 0 {
				return strikeapi.Amount{}, errors.New("requested amount is below the smallest representable fiat amount")
			}
			return strikeapi.Amount{Amount: amount, Currency: sc.currency}, nil
		}
	}
	return strikeapi.Amount{}, errors.New("no exchange rate available for currency " + sc.currency)
}

// GetInvoice reports the current status of a receive request. The
// persisted paid flag is authoritative once set; for requests still
// pending the remote state is consulted for display, without touching
// the stored record.
func (sc *StrikeClient) GetInvoice(ctx context.Context, requestId string) (*lnclient.Invoice, error) {
	request, err := sc.store.FindByRequestId(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, nil
	}

	invoice := invoiceFromRequest(request, time.Now())
	if request.Paid {
		return invoice, nil
	}

	remoteInvoice, err := sc.gateway.FindInvoice(ctx, requestId)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("request_id", requestId).
			Msg("Failed to fetch remote invoice state, reporting stored state")
		return invoice, nil
	}
	if remoteInvoice != nil {
		invoice.Status = translateInvoiceStatus(remoteInvoice.State, request.ExpiresAt, time.Now())
	}
	return invoice, nil
}

func (sc *StrikeClient) GetInvoiceByPaymentHash(ctx context.Context, paymentHash string) (*lnclient.Invoice, error) {
	request, err := sc.store.FindByPaymentHash(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, nil
	}
	return invoiceFromRequest(request, time.Now()), nil
}

func (sc *StrikeClient) ListInvoices(ctx context.Context, pendingOnly bool, offset int) ([]*lnclient.Invoice, error) {
	requests, err := sc.store.ListRequests(ctx, pendingOnly, offset)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	invoices := make([]*lnclient.Invoice, 0, len(requests))
	for i := range requests {
		invoices = append(invoices, invoiceFromRequest(&requests[i], now))
	}
	return invoices, nil
}

// GetBalance aggregates all account balances into satoshis using the
// current rates ticker.
func (sc *StrikeClient) GetBalance(ctx context.Context) (*lnclient.Balance, error) {
	balances, err := sc.gateway.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	rates, err := sc.gateway.GetRatesTicker(ctx)
	if err != nil {
		return nil, err
	}

	totalBtc := 0.0
	for _, balance := range balances {
		if balance.Available <= 0 {
			continue
		}
		if strings.EqualFold(balance.Currency, currencyBtc) {
			totalBtc += balance.Available
			continue
		}
		btc, ok := toBtc(balance, rates)
		if !ok {
			logger.Logger.Warn().
				Str("currency", balance.Currency).
				Msg("No exchange rate for balance currency, skipping it in the total")
			continue
		}
		totalBtc += btc
	}

	return &lnclient.Balance{AvailableSat: uint64(math.Round(totalBtc * 1e8))}, nil
}

func toBtc(balance strikeapi.Balance, rates []strikeapi.Rate) (float64, bool) {
	for _, rate := range rates {
		if rate.Amount <= 0 {
			continue
		}
		if rate.SourceCurrency == balance.Currency && rate.TargetCurrency == currencyBtc {
			return balance.Available * rate.Amount, true
		}
		if rate.SourceCurrency == currencyBtc && rate.TargetCurrency == balance.Currency {
			return balance.Available / rate.Amount, true
		}
	}
	return 0, false
}
