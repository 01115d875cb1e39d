package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

// Gateway is a testify mock of the Strike API surface.
type Gateway struct {
	mock.Mock
}

var _ strikeapi.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{}
}

func (m *Gateway) IssueInvoice(ctx context.Context, amount strikeapi.Amount, description string) (*strikeapi.Invoice, error) {
	args := m.Called(ctx, amount, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.Invoice), args.Error(1)
}

func (m *Gateway) IssueQuote(ctx context.Context, invoiceId string, descriptionHash string) (*strikeapi.InvoiceQuote, error) {
	args := m.Called(ctx, invoiceId, descriptionHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.InvoiceQuote), args.Error(1)
}

func (m *Gateway) FindInvoice(ctx context.Context, invoiceId string) (*strikeapi.Invoice, error) {
	args := m.Called(ctx, invoiceId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.Invoice), args.Error(1)
}

func (m *Gateway) GetInvoices(ctx context.Context, limit int, offset int) (*strikeapi.InvoiceCollection, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.InvoiceCollection), args.Error(1)
}

func (m *Gateway) GetInvoicesByIds(ctx context.Context, invoiceIds []string) ([]strikeapi.Invoice, error) {
	args := m.Called(ctx, invoiceIds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]strikeapi.Invoice), args.Error(1)
}

func (m *Gateway) GetReceiveSettlement(ctx context.Context, invoiceId string) (*strikeapi.ReceiveSettlement, error) {
	args := m.Called(ctx, invoiceId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.ReceiveSettlement), args.Error(1)
}

func (m *Gateway) GetRatesTicker(ctx context.Context) ([]strikeapi.Rate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]strikeapi.Rate), args.Error(1)
}

func (m *Gateway) GetBalances(ctx context.Context) ([]strikeapi.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]strikeapi.Balance), args.Error(1)
}

func (m *Gateway) ExecuteConversion(ctx context.Context, sell string, buy string, amount float64, idempotencyKey string) (bool, error) {
	args := m.Called(ctx, sell, buy, amount, idempotencyKey)
	return args.Bool(0), args.Error(1)
}

func (m *Gateway) CreatePaymentQuote(ctx context.Context, paymentRequest string, sourceCurrency string) (*strikeapi.PaymentQuote, error) {
	args := m.Called(ctx, paymentRequest, sourceCurrency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.PaymentQuote), args.Error(1)
}

func (m *Gateway) ExecutePaymentQuote(ctx context.Context, paymentQuoteId string) (*strikeapi.Payment, error) {
	args := m.Called(ctx, paymentQuoteId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.Payment), args.Error(1)
}

func (m *Gateway) FindPayment(ctx context.Context, paymentId string) (*strikeapi.Payment, error) {
	args := m.Called(ctx, paymentId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strikeapi.Payment), args.Error(1)
}
