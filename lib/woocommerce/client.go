// Package woocommerce is a minimal client for the WooCommerce REST API,
// covering the product upsert the sync pipeline needs.
package woocommerce

import (
	"context"
	"fmt"
	"time"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("woocommerce")

type Options struct {
	BaseURL        string `json:"base_url"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type Client struct {
	http *resty.Client
}

func NewClient(opts Options) *Client {
	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetBasicAuth(opts.ConsumerKey, opts.ConsumerSecret)
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	telemetry.InstrumentResty(client, "woocommerce/http")

	return &Client{http: client}
}

type Product struct {
	ID               int64       `json:"id,omitempty"`
	Name             string      `json:"name"`
	Sku              string      `json:"sku,omitempty"`
	Description      string      `json:"description,omitempty"`
	ShortDescription string      `json:"short_description,omitempty"`
	Categories       []Category  `json:"categories,omitempty"`
	Tags             []Tag       `json:"tags,omitempty"`
	Attributes       []Attribute `json:"attributes,omitempty"`
	Images           []Image     `json:"images,omitempty"`
}

type Category struct {
	Name string `json:"name"`
}

type Tag struct {
	Name string `json:"name"`
}

type Attribute struct {
	Name    string   `json:"name"`
	Visible bool     `json:"visible"`
	Options []string `json:"options"`
}

type Image struct {
	Src      string `json:"src,omitempty"`
	Name     string `json:"name,omitempty"`
	Position int    `json:"position"`
}

func classifyStatus(status int, body string) error {
	err := fmt.Errorf("woocommerce: status %d: %s", status, body)
	if status >= 400 && status < 500 {
		return retrier.Permanent(err)
	}
	return retrier.Transient(err)
}

// FindBySku returns the remote product carrying the given sku, or nil.
func (c *Client) FindBySku(ctx context.Context, sku string) (*Product, error) {
	ctx, span := tracer.Start(ctx, "FindBySku")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku))

	var products []Product
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sku", sku).
		SetResult(&products).
		Get("/wp-json/wc/v3/products")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, retrier.Transient(err)
	}
	if res.StatusCode() != 200 {
		err := classifyStatus(res.StatusCode(), res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

// Upsert creates the product, or updates it in place when a product
// with the same sku already exists. Re-sending the same sku therefore
// never duplicates.
func (c *Client) Upsert(ctx context.Context, product Product) (int64, error) {
	ctx, span := tracer.Start(ctx, "Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("sku", product.Sku))

	if product.Sku != "" {
		existing, err := c.FindBySku(ctx, product.Sku)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return c.update(ctx, existing.ID, product)
		}
	}
	return c.create(ctx, product)
}

func (c *Client) create(ctx context.Context, product Product) (int64, error) {
	ctx, span := tracer.Start(ctx, "create")
	defer span.End()

	var created Product
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(product).
		SetResult(&created).
		Post("/wp-json/wc/v3/products")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, retrier.Transient(err)
	}
	if res.StatusCode() != 200 && res.StatusCode() != 201 {
		err := classifyStatus(res.StatusCode(), res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return created.ID, nil
}

func (c *Client) update(ctx context.Context, id int64, product Product) (int64, error) {
	ctx, span := tracer.Start(ctx, "update")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	var updated Product
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(product).
		SetResult(&updated).
		Put(fmt.Sprintf("/wp-json/wc/v3/products/%d", id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, retrier.Transient(err)
	}
	if res.StatusCode() != 200 {
		err := classifyStatus(res.StatusCode(), res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return updated.ID, nil
}
