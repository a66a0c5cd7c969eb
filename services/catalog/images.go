package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/services/catalog/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// processImages drives every image of one product to a terminal state.
// Outcomes land in the ledger, the proceed-or-fail decision for the
// product is taken afterwards from the persisted image rows. Only
// storage errors and cancellation are returned.
func (s *Service) processImages(ctx context.Context, fileID, productID int64) error {
	ctx, span := tracer.Start(ctx, "processImages")
	defer span.End()
	span.SetAttributes(attribute.Int64("product", productID))

	images, err := s.qry.GetProductImages(ctx, productID)
	if err != nil {
		return storageErr("get product images", err)
	}

	for _, image := range images {
		if ImageStatus(image.DownloadStatus).Terminal() {
			continue
		}
		if err := s.processImage(ctx, fileID, productID, image); err != nil {
			if IsStorageError(err) || ctx.Err() != nil {
				return err
			}
			slog.WarnContext(ctx, "image failed",
				"product", productID, "image", image.ID, "order", image.DisplayOrder, "err", err)
		}
	}
	return nil
}

// processImage runs the attempt loop for one image: claim, fetch,
// store, optimize. The attempt counter lives in the ledger, so a
// restart keeps counting where the previous run stopped.
func (s *Service) processImage(ctx context.Context, fileID, productID int64, image db.ProductImage) error {
	ctx, span := tracer.Start(ctx, "processImage")
	defer span.End()
	span.SetAttributes(attribute.String("url", image.ImageUrl))

	var lastErr error
	for {
		attempts, claimed, err := s.qry.BeginImageAttempt(ctx, image.ID)
		if err != nil {
			return storageErr("begin image attempt", err)
		}
		if !claimed {
			// terminal, or claimed by a concurrent run
			return lastErr
		}

		err = s.attemptImage(ctx, image)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsStorageError(err) || ctx.Err() != nil {
			return err
		}

		s.logAttemptFailure(ctx, fileID, productID, "image download", int(attempts), err)
		logErr := s.qry.ReleaseImageAttempt(ctx, db.ReleaseImageAttemptParams{
			ID:           image.ID,
			ErrorMessage: nullStr(err.Error()),
		})
		if logErr != nil {
			return storageErr("release image attempt", logErr)
		}

		if retrier.Classify(err) == retrier.ClassPermanent || attempts >= int64(s.config.MaxRetries) {
			markErr := s.qry.SetImageError(ctx, db.SetImageErrorParams{
				ID:           image.ID,
				ErrorMessage: nullStr(err.Error()),
			})
			if markErr != nil {
				return storageErr("set image error", markErr)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if !s.retry.Sleep(ctx, int(attempts)) {
			return ctx.Err()
		}
	}
}

// attemptImage performs one fetch + optimize attempt.
func (s *Service) attemptImage(ctx context.Context, image db.ProductImage) error {
	if s.adapters.Fetcher == nil || s.adapters.Optimizer == nil {
		return retrier.Permanent(fmt.Errorf("image adapters not configured"))
	}

	attemptCtx := ctx
	if timeout := s.retry.AttemptTimeout; timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := s.adapters.Fetcher.Fetch(attemptCtx, image.ImageUrl)
	if err != nil {
		return err
	}

	rawPath := filepath.Join(s.config.ImageDir, imageFilename(image, "raw"))
	if err := writeFile(rawPath, raw); err != nil {
		return err
	}
	rows, err := s.qry.SetImageDownloaded(ctx, db.SetImageDownloadedParams{
		ID:           image.ID,
		LocalPath:    rawPath,
		FileSize:     int64(len(raw)),
		DownloadedAt: now(),
	})
	if err != nil {
		return storageErr("set image downloaded", err)
	}
	if rows == 0 {
		return nil
	}

	optimized, width, height, err := s.adapters.Optimizer.Optimize(raw)
	if err != nil {
		return err
	}
	optimizedPath := filepath.Join(s.config.OptimizedDir, imageFilename(image, "opt"))
	if err := writeFile(optimizedPath, optimized); err != nil {
		return err
	}
	rows, err = s.qry.SetImageOptimized(ctx, db.SetImageOptimizedParams{
		ID:            image.ID,
		OptimizedPath: optimizedPath,
		Width:         int64(width),
		Height:        int64(height),
	})
	if err != nil {
		return storageErr("set image optimized", err)
	}
	if rows == 0 {
		return nil
	}
	return nil
}

func imageFilename(image db.ProductImage, variant string) string {
	return fmt.Sprintf("p%d-i%d-%s.jpg", image.ProductID, image.ID, variant)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return retrier.Transient(fmt.Errorf("creating image dir: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return retrier.Transient(fmt.Errorf("writing image: %w", err))
	}
	return nil
}
