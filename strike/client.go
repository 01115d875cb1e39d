// Package strike is a thin client over the Strike REST API. It only
// implements the calls the bridge consumes: invoice issuance and bulk
// status queries, rates, balances, currency exchanges and lightning
// payment quotes.
package strike

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/logger"
)

const DefaultBaseURL = "https://api.strike.me/v1"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(apiKey string, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// IssueInvoice creates a new invoice denominated in the given amount
// and currency.
func (c *Client) IssueInvoice(ctx context.Context, amount Amount, description string) (*Invoice, error) {
	var invoice Invoice
	err := c.do(ctx, http.MethodPost, "/invoices", &issueInvoiceRequest{
		Amount:      amount,
		Description: description,
	}, "", &invoice)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// IssueQuote requests a BOLT11 quote for a previously issued invoice.
func (c *Client) IssueQuote(ctx context.Context, invoiceId string, descriptionHash string) (*InvoiceQuote, error) {
	var quote InvoiceQuote
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/invoices/%s/quote", url.PathEscape(invoiceId)), &issueQuoteRequest{
		DescriptionHash: descriptionHash,
	}, "", &quote)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// FindInvoice fetches a single invoice by its id. Returns nil without
// an error when the invoice does not exist upstream.
func (c *Client) FindInvoice(ctx context.Context, invoiceId string) (*Invoice, error) {
	var invoice Invoice
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/invoices/%s", url.PathEscape(invoiceId)), nil, "", &invoice)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// GetInvoices lists invoices with standard paging.
func (c *Client) GetInvoices(ctx context.Context, limit int, offset int) (*InvoiceCollection, error) {
	var collection InvoiceCollection
	path := fmt.Sprintf("/invoices?$top=%d&$skip=%d&$orderby=created%%20desc", limit, offset)
	err := c.do(ctx, http.MethodGet, path, nil, "", &collection)
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// GetInvoicesByIds fetches the current state of the given invoices
// with one filter query. The Strike API accepts at most
// constants.INVOICE_QUERY_BATCH_SIZE ids per call; larger inputs are
// an error here, batching is the caller's concern.
func (c *Client) GetInvoicesByIds(ctx context.Context, invoiceIds []string) ([]Invoice, error) {
	if len(invoiceIds) == 0 {
		return nil, nil
	}
	if len(invoiceIds) > constants.INVOICE_QUERY_BATCH_SIZE {
		return nil, fmt.Errorf("at most %d invoice ids per query, got %d", constants.INVOICE_QUERY_BATCH_SIZE, len(invoiceIds))
	}

	filter := fmt.Sprintf("invoiceId in (%s)", strings.Join(invoiceIds, ","))
	path := "/invoices?$filter=" + url.QueryEscape(filter)

	var collection InvoiceCollection
	err := c.do(ctx, http.MethodGet, path, nil, "", &collection)
	if err != nil {
		return nil, err
	}
	return collection.Items, nil
}

// GetReceiveSettlement fetches settlement details (preimage,
// counterparty, credited amount) for a paid invoice.
func (c *Client) GetReceiveSettlement(ctx context.Context, invoiceId string) (*ReceiveSettlement, error) {
	var settlement ReceiveSettlement
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/invoices/%s/settlement", url.PathEscape(invoiceId)), nil, "", &settlement)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &settlement, nil
}

func (c *Client) GetRatesTicker(ctx context.Context) ([]Rate, error) {
	var rates []Rate
	err := c.do(ctx, http.MethodGet, "/rates/ticker", nil, "", &rates)
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	var balances []Balance
	err := c.do(ctx, http.MethodGet, "/balances", nil, "", &balances)
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// ExecuteConversion creates and executes a currency exchange quote.
// The idempotency key makes repeated calls for the same request safe:
// the upstream deduplicates, and a duplicate response counts as
// success.
func (c *Client) ExecuteConversion(ctx context.Context, sell string, buy string, amount float64, idempotencyKey string) (bool, error) {
	var quote CurrencyExchangeQuote
	err := c.do(ctx, http.MethodPost, "/currency-exchange-quotes", &currencyExchangeQuoteRequest{
		Sell: sell,
		Buy:  buy,
		Amount: currencyExchangeAmnt{
			Amount:    amount,
			Currency:  sell,
			FeePolicy: "EXCLUSIVE",
		},
	}, idempotencyKey, &quote)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusConflict {
			// already executed for this idempotency key
			return true, nil
		}
		return false, err
	}

	err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/currency-exchange-quotes/%s/execute", url.PathEscape(quote.Id)), nil, "", nil)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusConflict {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// CreatePaymentQuote requests a lightning payment quote for a BOLT11
// invoice, paid from the given source currency balance.
func (c *Client) CreatePaymentQuote(ctx context.Context, paymentRequest string, sourceCurrency string) (*PaymentQuote, error) {
	var quote PaymentQuote
	err := c.do(ctx, http.MethodPost, "/payment-quotes/lightning", &paymentQuoteRequest{
		LnInvoice:      paymentRequest,
		SourceCurrency: sourceCurrency,
	}, "", &quote)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (c *Client) ExecutePaymentQuote(ctx context.Context, paymentQuoteId string) (*Payment, error) {
	var payment Payment
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/payment-quotes/%s/execute", url.PathEscape(paymentQuoteId)), nil, "", &payment)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) FindPayment(ctx context.Context, paymentId string) (*Payment, error) {
	var payment Payment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/payments/%s", url.PathEscape(paymentId)), nil, "", &payment)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, idempotencyKey string, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("path", path).
			Msg("Error creating request to Strike API")
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("idempotency-key", idempotencyKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("path", path).
			Msg("Failed to call Strike API")
		return err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("path", path).
			Msg("Failed to read Strike API response body")
		return err
	}

	if res.StatusCode >= 300 {
		var errorBody upstreamErrorBody
		// the body is diagnostic only, a parse failure is fine
		_ = json.Unmarshal(resBody, &errorBody)
		logger.Logger.Warn().
			Str("path", path).
			Int("status_code", res.StatusCode).
			Str("code", errorBody.Data.Code).
			Str("message", errorBody.Data.Message).
			Msg("Strike API returned non-success code")
		return NewUpstreamError(res.StatusCode, errorBody.Data.Code, errorBody.Data.Message)
	}

	if result == nil {
		return nil
	}
	err = json.Unmarshal(resBody, result)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("path", path).
			Str("body", string(resBody)).
			Msg("Failed to decode Strike API response")
		return err
	}
	return nil
}
