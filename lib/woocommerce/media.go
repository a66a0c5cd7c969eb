package woocommerce

import (
	"context"
	"fmt"

	"catalogsync-backend/lib/retrier"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type MediaItem struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// UploadMedia pushes one image into the wordpress media library and
// returns its public url, which product images can then reference.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (MediaItem, error) {
	ctx, span := tracer.Start(ctx, "UploadMedia")
	defer span.End()
	span.SetAttributes(attribute.String("filename", filename))

	var item MediaItem
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename)).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(data).
		SetResult(&item).
		Post("/wp-json/wp/v2/media")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MediaItem{}, retrier.Transient(err)
	}
	if res.StatusCode() != 200 && res.StatusCode() != 201 {
		err := classifyStatus(res.StatusCode(), res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MediaItem{}, err
	}
	return item, nil
}
