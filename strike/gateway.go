package strike

import "context"

// Gateway is the call surface the bridge consumes from the Strike
// API. *Client implements it; tests substitute a mock.
type Gateway interface {
	IssueInvoice(ctx context.Context, amount Amount, description string) (*Invoice, error)
	IssueQuote(ctx context.Context, invoiceId string, descriptionHash string) (*InvoiceQuote, error)
	FindInvoice(ctx context.Context, invoiceId string) (*Invoice, error)
	GetInvoices(ctx context.Context, limit int, offset int) (*InvoiceCollection, error)
	GetInvoicesByIds(ctx context.Context, invoiceIds []string) ([]Invoice, error)
	GetReceiveSettlement(ctx context.Context, invoiceId string) (*ReceiveSettlement, error)
	GetRatesTicker(ctx context.Context) ([]Rate, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	ExecuteConversion(ctx context.Context, sell string, buy string, amount float64, idempotencyKey string) (bool, error)
	CreatePaymentQuote(ctx context.Context, paymentRequest string, sourceCurrency string) (*PaymentQuote, error)
	ExecutePaymentQuote(ctx context.Context, paymentQuoteId string) (*Payment, error)
	FindPayment(ctx context.Context, paymentId string) (*Payment, error)
}

var _ Gateway = (*Client)(nil)
