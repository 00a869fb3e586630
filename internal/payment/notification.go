package payment

import (
	"errors"
	"github.com/tidwall/gjson"
	"io"
	"net/http"
	"strings"
)

// Notification is the inbound webhook reduced to what reconciliation needs.
// Any status carried by the provider payload is deliberately dropped.
type Notification struct {
	Type      string
	PaymentID string
}

// IsPayment reports whether the notification refers to a payment resource.
func (n Notification) IsPayment() bool { return n.Type == "payment" }

var ErrMalformedNotification = errors.New("malformed payment notification")

// ParseNotification accepts the JSON body form
// {"type":"payment","data":{"id":"123"}} as well as the legacy query/form
// form ?topic=payment&id=123 or ?type=payment&data.id=123.
func ParseNotification(r *http.Request) (Notification, error) {
	var n Notification

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			return n, err
		}
		if len(raw) > 0 {
			if !gjson.ValidBytes(raw) {
				return n, ErrMalformedNotification
			}
			body := gjson.ParseBytes(raw)
			n.Type = firstNonEmpty(body.Get("type").String(), body.Get("topic").String(), body.Get("action").String())
			n.PaymentID = body.Get("data.id").String()
			if n.PaymentID == "" && n.Type == "payment" {
				n.PaymentID = body.Get("id").String()
			}
		}
	} else if err := r.ParseForm(); err != nil {
		return n, ErrMalformedNotification
	}

	// query parameters fill whatever the body did not carry
	q := r.URL.Query()
	if n.Type == "" {
		n.Type = firstNonEmpty(q.Get("type"), q.Get("topic"), r.PostFormValue("type"), r.PostFormValue("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = firstNonEmpty(q.Get("data.id"), q.Get("id"), r.PostFormValue("data.id"), r.PostFormValue("id"))
	}
	// action-style types like "payment.updated"
	if i := strings.IndexByte(n.Type, '.'); i > 0 {
		n.Type = n.Type[:i]
	}
	if n.Type == "" {
		return n, ErrMalformedNotification
	}
	if n.IsPayment() && n.PaymentID == "" {
		return n, ErrMalformedNotification
	}
	return n, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
