package mercadolibre

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"catalogsync-backend/lib/hostlimit"
	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

type Client struct {
	Http *resty.Client
}

type ClientOptions struct {
	// minimum delay between requests to the same host
	HostDelay time.Duration
	Timeout   time.Duration
}

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	jar, _ := cookiejar.New(nil)
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	hostlimit.Attach(client, hostlimit.New(opts.HostDelay))
	telemetry.InstrumentResty(client, "scrapers/mercadolibre/http")

	return &Client{Http: client}
}

// FetchDocument downloads a product page and parses it.
func (c *Client) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "FetchDocument")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, retrier.Transient(fmt.Errorf("fetch product page: %w", err))
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("fetch product page: status %d", res.StatusCode())
		// a missing or blocked page does not come back on retry
		if res.StatusCode() >= 400 && res.StatusCode() < 500 {
			err = retrier.Permanent(err)
		} else {
			err = retrier.Transient(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return doc, nil
}
