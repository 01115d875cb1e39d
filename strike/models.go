package strike

import "fmt"

// InvoiceState is the invoice status vocabulary of the Strike API. It
// never leaks into persisted fields or the host-facing status enum.
type InvoiceState string

const (
	InvoiceStateUnpaid    InvoiceState = "UNPAID"
	InvoiceStatePending   InvoiceState = "PENDING"
	InvoiceStatePaid      InvoiceState = "PAID"
	InvoiceStateCanceled  InvoiceState = "CANCELLED"
	InvoiceStateReversed  InvoiceState = "REVERSED"
	InvoiceStateUndefined InvoiceState = "UNDEFINED"
)

// IsTerminalUnpaid reports whether the remote state means the invoice
// will never be paid and polling for it should stop.
func (s InvoiceState) IsTerminalUnpaid() bool {
	switch s {
	case InvoiceStateCanceled, InvoiceStateReversed, InvoiceStateUndefined:
		return true
	}
	return false
}

type Amount struct {
	Amount   float64 `json:"amount,string"`
	Currency string  `json:"currency"`
}

type Invoice struct {
	InvoiceId   string       `json:"invoiceId"`
	Amount      Amount       `json:"amount"`
	State       InvoiceState `json:"state"`
	Description string       `json:"description"`
	Created     string       `json:"created"`
}

type InvoiceCollection struct {
	Items []Invoice `json:"items"`
	Count int       `json:"count"`
}

type InvoiceQuote struct {
	QuoteId        string `json:"quoteId"`
	LnInvoice      string `json:"lnInvoice"`
	Expiration     string `json:"expiration"`
	ConversionRate Amount `json:"conversionRate"`
}

type ReceiveSettlement struct {
	Preimage       string `json:"preimage,omitempty"`
	CounterpartyId string `json:"counterpartyId,omitempty"`
	AmountReceived Amount `json:"amountReceived"`
}

type Rate struct {
	Amount         float64 `json:"amount,string"`
	SourceCurrency string  `json:"sourceCurrency"`
	TargetCurrency string  `json:"targetCurrency"`
}

type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available,string"`
	Total     float64 `json:"total,string"`
}

type CurrencyExchangeQuote struct {
	Id string `json:"id"`
}

type PaymentQuote struct {
	PaymentQuoteId string  `json:"paymentQuoteId"`
	TotalFee       *Amount `json:"totalFee,omitempty"`
	ConversionRate *Amount `json:"conversionRate,omitempty"`
	TotalAmount    Amount  `json:"totalAmount"`
}

type Payment struct {
	PaymentId           string  `json:"paymentId"`
	State               string  `json:"state"`
	Completed           string  `json:"completed,omitempty"`
	TotalFee            *Amount `json:"totalFee,omitempty"`
	LightningNetworkFee *Amount `json:"lightningNetworkFee,omitempty"`
}

type issueInvoiceRequest struct {
	Amount      Amount `json:"amount"`
	Description string `json:"description,omitempty"`
}

type issueQuoteRequest struct {
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

type currencyExchangeQuoteRequest struct {
	Sell   string               `json:"sell"`
	Buy    string               `json:"buy"`
	Amount currencyExchangeAmnt `json:"amount"`
}

type currencyExchangeAmnt struct {
	Amount    float64 `json:"amount,string"`
	Currency  string  `json:"currency"`
	FeePolicy string  `json:"feePolicy"`
}

type paymentQuoteRequest struct {
	LnInvoice      string `json:"lnInvoice"`
	SourceCurrency string `json:"sourceCurrency"`
}

type upstreamErrorBody struct {
	Data struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// UpstreamError is returned when the Strike API responds with a
// non-success status. It carries the upstream diagnostics but is
// never surfaced to end users; background callers log it and retry on
// the next cycle.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("strike api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

func NewUpstreamError(statusCode int, code string, message string) error {
	return &UpstreamError{StatusCode: statusCode, Code: code, Message: message}
}
