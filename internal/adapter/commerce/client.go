// Package commerce reads orders and subscriptions from the store's REST API.
package commerce

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

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// ErrNotFound is returned when the store does not know the reference.
var ErrNotFound = errors.New("commerce record not found")

// gmtLayout is the store's timezone-less UTC date format.
const gmtLayout = "2006-01-02T15:04:05"

// Config points the client at the store.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	RetryMax       int
}

// Client implements domain.CommerceGateway. Transient failures (connection
// errors, 429 and 5xx) are retried with backoff.
type Client struct {
	http   *retryablehttp.Client
	base   string
	key    string
	secret string
}

var _ domain.CommerceGateway = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger.Named("commerce")}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	return &Client{
		http:   rc,
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/wp-json/wc/v3",
		key:    cfg.ConsumerKey,
		secret: cfg.ConsumerSecret,
	}
}

type orderJSON struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Status     string `json:"status"`
	LineItems  []struct {
		ProductID int64  `json:"product_id"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
	} `json:"line_items"`
	Billing struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Company   string `json:"company"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
		Address1  string `json:"address_1"`
		Address2  string `json:"address_2"`
		City      string `json:"city"`
		Country   string `json:"country"`
	} `json:"billing"`
}

type subscriptionJSON struct {
	ID              int64  `json:"id"`
	ParentID        int64  `json:"parent_id"`
	CustomerID      int64  `json:"customer_id"`
	Status          string `json:"status"`
	NextPaymentDate string `json:"next_payment_date_gmt"`
}

// Order fetches the order and the references of the subscriptions it
// started.
func (c *Client) Order(ctx context.Context, ref string) (domain.Order, error) {
	var o orderJSON
	if err := c.get(ctx, "/orders/"+url.PathEscape(ref), nil, &o); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", ref, err)
	}

	var subs []subscriptionJSON
	if err := c.get(ctx, "/subscriptions", url.Values{"parent": {ref}}, &subs); err != nil &&
		!errors.Is(err, ErrNotFound) {
		return domain.Order{}, fmt.Errorf("subscriptions of order %s: %w", ref, err)
	}

	order := domain.Order{
		Ref:    strconv.FormatInt(o.ID, 10),
		UserID: o.CustomerID,
		Status: o.Status,
		Billing: domain.Billing{
			FirstName: o.Billing.FirstName,
			LastName:  o.Billing.LastName,
			Company:   o.Billing.Company,
			Email:     o.Billing.Email,
			Phone:     o.Billing.Phone,
			Address1:  o.Billing.Address1,
			Address2:  o.Billing.Address2,
			City:      o.Billing.City,
			Country:   o.Billing.Country,
		},
	}
	for _, li := range o.LineItems {
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef: strconv.FormatInt(li.ProductID, 10),
			Name:       li.Name,
			Quantity:   li.Quantity,
		})
	}
	for _, s := range subs {
		order.SubscriptionRefs = append(order.SubscriptionRefs, strconv.FormatInt(s.ID, 10))
	}
	return order, nil
}

func (c *Client) Subscription(ctx context.Context, ref string) (domain.Subscription, error) {
	var s subscriptionJSON
	if err := c.get(ctx, "/subscriptions/"+url.PathEscape(ref), nil, &s); err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription %s: %w", ref, err)
	}

	sub := domain.Subscription{
		Ref:    strconv.FormatInt(s.ID, 10),
		UserID: s.CustomerID,
		Status: s.Status,
	}
	if s.ParentID != 0 {
		sub.ParentOrderID = strconv.FormatInt(s.ParentID, 10)
	}
	if s.NextPaymentDate != "" {
		next, err := time.ParseInLocation(gmtLayout, s.NextPaymentDate, time.UTC)
		if err != nil {
			return domain.Subscription{}, fmt.Errorf("subscription %s: next payment date: %w", ref, err)
		}
		sub.NextPayment = &next
	}
	return sub, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling store: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("store returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *zap.Logger
}

func (z leveledLogger) Error(msg string, kv ...any) { z.l.Sugar().Errorw(msg, kv...) }
func (z leveledLogger) Info(msg string, kv ...any)  { z.l.Sugar().Debugw(msg, kv...) }
func (z leveledLogger) Debug(msg string, kv ...any) { z.l.Sugar().Debugw(msg, kv...) }
func (z leveledLogger) Warn(msg string, kv ...any)  { z.l.Sugar().Warnw(msg, kv...) }
