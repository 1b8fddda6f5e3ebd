package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrProvider wraps failures of the external payment service. Order
// creation treats it as fatal (the whole transaction rolls back);
// cancellation treats it as best-effort and logs it.
var ErrProvider = errors.New("payment provider error")

// Link is the result of a create-link call: the provider's reference for
// the trade and the checkout URL the buyer is redirected to.
type Link struct {
	TradeNo string
	PayURL  string
}

// Provider is the outbound payment contract. CreateLink must be called
// with a bounded context because order creation holds capacity row locks
// while it runs; CancelLink is best-effort and failures do not block
// local cancellation.
type Provider interface {
	CreateLink(ctx context.Context, orderNo string, amountCents int64, subject string) (Link, error)
	CancelLink(ctx context.Context, tradeNo string) error
}

// HTTPProvider implements Provider against the provider's HTTP API using
// form-encoded requests signed with the shared webhook secret.
type HTTPProvider struct {
	BaseURL   string
	Secret    string
	NotifyURL string
	Client    *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a short request timeout.
// The timeout bounds how long the order-creation transaction can be
// stalled by a slow provider.
func NewHTTPProvider(baseURL, secret, notifyURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Secret:    secret,
		NotifyURL: notifyURL,
		Client:    &http.Client{Timeout: timeout},
	}
}

// CreateLink requests a checkout link for an order. The provider replies
// with {"code":"OK","trade_no":...,"pay_url":...}; any transport error,
// non-200 status or non-OK code is reported as ErrProvider.
func (p *HTTPProvider) CreateLink(ctx context.Context, orderNo string, amountCents int64, subject string) (Link, error) {
	params := map[string]string{
		"order_no":     orderNo,
		"amount_cents": strconv.FormatInt(amountCents, 10),
		"subject":      subject,
		"notify_url":   p.NotifyURL,
		"timestamp":    strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
	var reply struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TradeNo string `json:"trade_no"`
		PayURL  string `json:"pay_url"`
	}
	if err := p.post(ctx, "/v1/links", params, &reply); err != nil {
		return Link{}, err
	}
	if reply.Code != "OK" || reply.TradeNo == "" {
		return Link{}, fmt.Errorf("%w: create link refused: %s %s", ErrProvider, reply.Code, reply.Message)
	}
	return Link{TradeNo: reply.TradeNo, PayURL: reply.PayURL}, nil
}

// CancelLink asks the provider to invalidate a previously issued link.
func (p *HTTPProvider) CancelLink(ctx context.Context, tradeNo string) error {
	params := map[string]string{
		"trade_no":  tradeNo,
		"timestamp": strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
	var reply struct {
		Code string `json:"code"`
	}
	if err := p.post(ctx, "/v1/links/cancel", params, &reply); err != nil {
		return err
	}
	if reply.Code != "OK" {
		return fmt.Errorf("%w: cancel link refused: %s", ErrProvider, reply.Code)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, params map[string]string, out interface{}) error {
	params[SignParamKey] = Sign(params, p.Secret)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
