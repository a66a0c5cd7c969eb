// Package imageutil downloads product images and shrinks them for upload.
package imageutil

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"catalogsync-backend/lib/hostlimit"
	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("imageutil")

type FetcherOptions struct {
	HostDelay time.Duration
	Timeout   time.Duration
}

// Fetcher downloads image bytes over http with per-host throttling.
type Fetcher struct {
	http *resty.Client
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := resty.New()
	jar, _ := cookiejar.New(nil)
	client.SetCookieJar(jar)
	client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	} else {
		client.SetTimeout(time.Second * 60)
	}

	hostlimit.Attach(client, hostlimit.New(opts.HostDelay))
	telemetry.InstrumentResty(client, "imageutil/http")

	return &Fetcher{http: client}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, retrier.Transient(fmt.Errorf("fetching image: %w", err))
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("fetching image: status %d", res.StatusCode())
		if res.StatusCode() >= 400 && res.StatusCode() < 500 {
			err = retrier.Permanent(err)
		} else {
			err = retrier.Transient(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res.Body(), nil
}
