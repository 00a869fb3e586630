package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/tidwall/gjson"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultMercadoPagoURL = "https://api.mercadopago.com"

// MercadoPago talks to the Mercado Pago REST API. Only the fields the
// reconciler needs are read from responses.
type MercadoPago struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

func NewMercadoPago(baseURL, token string) *MercadoPago {
	if baseURL == "" {
		baseURL = DefaultMercadoPagoURL
	}
	return &MercadoPago{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: token,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

var _ Gateway = (*MercadoPago)(nil)

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

type preferenceReq struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
}

func (m *MercadoPago) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	body, err := json.Marshal(preferenceReq{
		Items: []preferenceItem{{
			Title:     req.Description,
			Quantity:  qty,
			UnitPrice: float64(req.AmountCents) / 100 / float64(qty),
		}},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotifyURL,
	})
	if err != nil {
		return Checkout{}, &GatewayError{Op: "create_checkout", Err: err}
	}

	raw, err := m.do(ctx, "create_checkout", http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return Checkout{}, err
	}
	res := gjson.ParseBytes(raw)
	out := Checkout{
		PreferenceID: res.Get("id").String(),
		RedirectURL:  res.Get("init_point").String(),
	}
	if out.PreferenceID == "" || out.RedirectURL == "" {
		return Checkout{}, &GatewayError{Op: "create_checkout", Err: errors.New("preference response missing id or init_point")}
	}
	return out, nil
}

func (m *MercadoPago) PaymentStatus(ctx context.Context, paymentID string) (Status, error) {
	if paymentID == "" {
		return Status{}, &GatewayError{Op: "payment_status", Err: errors.New("empty payment id")}
	}
	raw, err := m.do(ctx, "payment_status", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return Status{}, err
	}
	return parsePayment(raw)
}

func parsePayment(raw []byte) (Status, error) {
	res := gjson.ParseBytes(raw)
	status := res.Get("status").String()
	if status == "" {
		return Status{}, &GatewayError{Op: "payment_status", Err: errors.New("payment response missing status")}
	}
	out := Status{
		PaymentID:         res.Get("id").String(),
		State:             MapStatus(status),
		RawStatus:         status,
		ExternalReference: res.Get("external_reference").String(),
		AmountCents:       int(math.Round(res.Get("transaction_amount").Float() * 100)),
	}
	if ts := res.Get("date_created").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			out.CreatedAt = t.UTC()
		}
	}
	return out, nil
}

func (m *MercadoPago) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.BaseURL+path, rd)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+m.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}
	return raw, nil
}
