package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/services/catalog/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RunOptions is the per-run configuration set by the operational
// surface (CLI flags, daemon config).
type RunOptions struct {
	// ExtractOnly stops every product after the scrape stage, the
	// file stays in processing for a later full run.
	ExtractOnly bool
	// ForceRedownload resets finished or failed images back to
	// pending (attempt counters preserved) and re-fetches them.
	ForceRedownload bool
}

// Run processes every active input file in insertion order. A failure
// inside one file never aborts the others, only storage errors and
// cancellation stop the run.
func (s *Service) Run(ctx context.Context, opts RunOptions) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	files, err := s.qry.GetActiveInputFiles(ctx)
	if err != nil {
		return storageErr("get active input files", err)
	}

	for _, file := range files {
		err := s.ProcessFile(ctx, file.ID, opts)
		if err != nil {
			if IsStorageError(err) || ctx.Err() != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			slog.WarnContext(ctx, "input file processing failed", "file", file.ID, "err", err)
		}
	}
	return nil
}

// ProcessFile walks every product of one file through the pipeline.
// All eligibility comes from persisted status, so calling this again
// after a crash resumes from the last checkpoint with no duplicate
// side effects.
func (s *Service) ProcessFile(ctx context.Context, fileID int64, opts RunOptions) error {
	ctx, span := tracer.Start(ctx, "ProcessFile")
	defer span.End()
	span.SetAttributes(attribute.Int64("file", fileID))

	file, err := s.qry.GetInputFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("input file %d not found", fileID)
		}
		return storageErr("get input file", err)
	}

	switch FileStatus(file.Status) {
	case FilePending:
		_, err := s.qry.TransitionInputFile(ctx, db.TransitionInputFileParams{
			ID:   fileID,
			From: string(FilePending),
			To:   string(FileProcessing),
		})
		if err != nil {
			return storageErr("transition input file", err)
		}
	case FileProcessing:
		// resuming
	default:
		return nil
	}

	if opts.ForceRedownload {
		if err := s.forceRedownload(ctx, fileID); err != nil {
			return err
		}
	}

	// recover image claims a crashed run left in flight before any
	// worker starts claiming
	released, err := s.qry.ReleaseStaleImageClaims(ctx, fileID)
	if err != nil {
		return storageErr("release stale image claims", err)
	}
	if released > 0 {
		slog.InfoContext(ctx, "released stale image claims", "file", fileID, "images", released)
	}

	err = s.forEachProduct(ctx, fileID, ProductPending, s.config.ScrapeWorkers, s.scrapeProduct)
	if err != nil {
		return err
	}
	if opts.ExtractOnly {
		return nil
	}

	err = s.forEachProduct(ctx, fileID, ProductScraped, s.config.ImageWorkers, s.startImages)
	if err != nil {
		return err
	}
	// picks up products already claimed for image work: force
	// redownloads and runs interrupted mid-download
	err = s.forEachProduct(ctx, fileID, ProductImageDownloading, s.config.ImageWorkers, s.finishImages)
	if err != nil {
		return err
	}

	return s.forEachProduct(ctx, fileID, ProductImageDownloaded, s.config.UploadWorkers, s.uploadProduct)
}

// forEachProduct dispatches every product currently in the given state
// to a bounded pool of workers. fn returns an error only for fatal
// conditions, per-product failures are committed to the ledger inside
// fn and never stop siblings.
func (s *Service) forEachProduct(
	parent context.Context,
	fileID int64,
	status ProductStatus,
	workers int,
	fn func(ctx context.Context, fileID int64, product db.Product) error,
) error {
	products, err := s.qry.GetProductsByStatus(parent, db.GetProductsByStatusParams{
		InputFileID: fileID,
		Status:      string(status),
	})
	if err != nil {
		return storageErr("get products by status", err)
	}
	if len(products) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		wg    sync.WaitGroup
		slots = make(chan struct{}, workers)
		mu    sync.Mutex
		fatal error
	)
	for _, product := range products {
		if ctx.Err() != nil {
			break
		}
		slots <- struct{}{}
		wg.Add(1)
		go func(product db.Product) {
			defer wg.Done()
			defer func() { <-slots }()

			if err := fn(ctx, fileID, product); err != nil {
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
				cancel()
			}
		}(product)
	}
	wg.Wait()

	if fatal != nil {
		return fatal
	}
	return parent.Err()
}

// scrapeProduct runs the extraction adapter for one pending product
// and persists the returned fields, tag rows and image records
// atomically with the scraped transition.
func (s *Service) scrapeProduct(ctx context.Context, fileID int64, product db.Product) error {
	ctx, span := tracer.Start(ctx, "scrapeProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product", product.ID))

	claimed, err := s.claimProduct(ctx, product.ID, ProductPending, ProductScraping)
	if err != nil || !claimed {
		return err
	}

	if s.adapters.Extractor == nil {
		return s.commitProductFailed(ctx, fileID, product.ID, ProductScraping, "",
			errors.New("no extraction adapter configured"))
	}

	var fields ProductFields
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var extractErr error
		fields, extractErr = s.adapters.Extractor.Extract(ctx, product.SourceReference)
		if IsValidationError(extractErr) {
			// bad data never gets better with retries
			return retrier.Permanent(extractErr)
		}
		return extractErr
	}, func(attempt int, err error) {
		s.logAttemptFailure(ctx, fileID, product.ID, "extraction", attempt, err)
	})
	if err == nil {
		err = fields.Validate()
	}
	if err != nil {
		if IsStorageError(err) || ctx.Err() != nil {
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.commitProductFailed(ctx, fileID, product.ID, ProductScraping, "", err)
	}

	return s.withTx(ctx, "commit scrape", func(q *db.Queries) error {
		ts := now()
		rows, err := q.SetProductScraped(ctx, db.SetProductScrapedParams{
			ID:                    product.ID,
			Name:                  nullStr(fields.Name),
			Brand:                 nullStr(fields.Brand),
			UnitsPerPack:          nullStr(fields.UnitsPerPack),
			NetVolume:             nullStr(fields.NetVolume),
			Flavor:                nullStr(fields.Flavor),
			GlutenFree:            fields.GlutenFree,
			Vegan:                 fields.Vegan,
			Whitening:             fields.Whitening,
			Format:                nullStr(fields.Format),
			ForChildren:           fields.ForChildren,
			ParabenFree:           fields.ParabenFree,
			OperationNoticeNumber: nullStr(fields.OperationNoticeNumber),
			ShelfLife:             nullStr(fields.ShelfLife),
			FullDescription:       nullStr(fields.FullDescription),
			ScrapedAt:             ts,
			UpdatedAt:             ts,
		})
		if err != nil {
			return storageErr("set product scraped", err)
		}
		if rows == 0 {
			return nil
		}

		for _, benefit := range fields.Benefits {
			err := q.AddProductBenefit(ctx, db.AddProductTagParams{ProductID: product.ID, Value: benefit})
			if err != nil {
				return storageErr("add benefit", err)
			}
		}
		for _, ingredient := range fields.NaturalIngredients {
			err := q.AddProductNaturalIngredient(ctx, db.AddProductTagParams{ProductID: product.ID, Value: ingredient})
			if err != nil {
				return storageErr("add ingredient", err)
			}
		}
		for _, chemical := range fields.ExcludedChemicals {
			err := q.AddProductExcludedChemical(ctx, db.AddProductTagParams{ProductID: product.ID, Value: chemical})
			if err != nil {
				return storageErr("add chemical", err)
			}
		}
		for _, category := range fields.Categories {
			err := q.AddProductCategory(ctx, db.AddProductTagParams{ProductID: product.ID, Value: category})
			if err != nil {
				return storageErr("add category", err)
			}
		}
		for i, url := range fields.ImageURLs {
			_, err := q.CreateProductImage(ctx, db.CreateProductImageParams{
				ProductID:    product.ID,
				ImageUrl:     url,
				DisplayOrder: int64(i),
			})
			if err != nil {
				return storageErr("create product image", err)
			}
		}
		return logEntry(ctx, q, fileID, product.ID, "info", "product scraped", fields.Name)
	})
}

// startImages claims a scraped product for the image stage.
func (s *Service) startImages(ctx context.Context, fileID int64, product db.Product) error {
	claimed, err := s.claimProduct(ctx, product.ID, ProductScraped, ProductImageDownloading)
	if err != nil || !claimed {
		return err
	}
	return s.runImageStage(ctx, fileID, product)
}

// finishImages resumes products already in image_downloading.
func (s *Service) finishImages(ctx context.Context, fileID int64, product db.Product) error {
	return s.runImageStage(ctx, fileID, product)
}

// runImageStage drives the product's images and then decides from the
// persisted rows whether the product proceeds. A run that crashed
// mid-stage leaves rows behind, so the decision must not depend on
// what this run happened to attempt.
func (s *Service) runImageStage(ctx context.Context, fileID int64, product db.Product) error {
	if err := s.processImages(ctx, fileID, product.ID); err != nil {
		return err
	}

	images, err := s.qry.GetProductImages(ctx, product.ID)
	if err != nil {
		return storageErr("get product images", err)
	}
	var primaryErr error
	for _, image := range images {
		status := ImageStatus(image.DownloadStatus)
		if !status.Terminal() {
			// a concurrent run still holds a claim, leave the
			// product for a later pass
			return nil
		}
		if image.DisplayOrder == 0 && status != ImageOptimized {
			message := "not optimized"
			if image.ErrorMessage.Valid {
				message = image.ErrorMessage.String
			}
			primaryErr = fmt.Errorf("primary image: %s", message)
		}
	}
	if primaryErr != nil {
		return s.commitProductFailed(ctx, fileID, product.ID,
			ProductImageDownloading, ProductImageError, primaryErr)
	}

	return s.withTx(ctx, "commit images", func(q *db.Queries) error {
		rows, err := q.TransitionProduct(ctx, db.TransitionProductParams{
			ID:        product.ID,
			From:      string(ProductImageDownloading),
			To:        string(ProductImageDownloaded),
			UpdatedAt: now(),
		})
		if err != nil {
			return storageErr("transition product", err)
		}
		if rows == 0 {
			return nil
		}
		return logEntry(ctx, q, fileID, product.ID, "info", "images ready", "")
	})
}

// uploadProduct pushes one finished product to the remote catalog.
func (s *Service) uploadProduct(ctx context.Context, fileID int64, product db.Product) error {
	ctx, span := tracer.Start(ctx, "uploadProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product", product.ID))

	claimed, err := s.claimProduct(ctx, product.ID, ProductImageDownloaded, ProductUploading)
	if err != nil || !claimed {
		return err
	}

	if s.adapters.Uploader == nil {
		return s.commitProductFailed(ctx, fileID, product.ID, ProductUploading, ProductUploadError,
			errors.New("no upload adapter configured"))
	}

	req, err := s.buildUploadRequest(ctx, product)
	if err != nil {
		if IsStorageError(err) || ctx.Err() != nil {
			return err
		}
		return s.commitProductFailed(ctx, fileID, product.ID, ProductUploading, ProductUploadError, err)
	}

	var postID int64
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var uploadErr error
		postID, uploadErr = s.adapters.Uploader.Upsert(ctx, req)
		return uploadErr
	}, func(attempt int, err error) {
		s.logAttemptFailure(ctx, fileID, product.ID, "upload", attempt, err)
	})
	if err != nil {
		if IsStorageError(err) || ctx.Err() != nil {
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.commitProductFailed(ctx, fileID, product.ID, ProductUploading, ProductUploadError, err)
	}

	return s.commitProductUploaded(ctx, fileID, product.ID, postID)
}

// buildUploadRequest reassembles the product, its tag rows and the
// optimized image paths from the ledger.
func (s *Service) buildUploadRequest(ctx context.Context, product db.Product) (UploadRequest, error) {
	fields := ProductFields{
		Name:                  product.Name.String,
		Brand:                 product.Brand.String,
		UnitsPerPack:          product.UnitsPerPack.String,
		NetVolume:             product.NetVolume.String,
		Flavor:                product.Flavor.String,
		GlutenFree:            product.GlutenFree,
		Vegan:                 product.Vegan,
		Whitening:             product.Whitening,
		Format:                product.Format.String,
		ForChildren:           product.ForChildren,
		ParabenFree:           product.ParabenFree,
		OperationNoticeNumber: product.OperationNoticeNumber.String,
		ShelfLife:             product.ShelfLife.String,
		FullDescription:       product.FullDescription.String,
	}

	var err error
	fields.Benefits, err = s.qry.GetProductBenefits(ctx, product.ID)
	if err != nil {
		return UploadRequest{}, storageErr("get benefits", err)
	}
	fields.NaturalIngredients, err = s.qry.GetProductNaturalIngredients(ctx, product.ID)
	if err != nil {
		return UploadRequest{}, storageErr("get ingredients", err)
	}
	fields.ExcludedChemicals, err = s.qry.GetProductExcludedChemicals(ctx, product.ID)
	if err != nil {
		return UploadRequest{}, storageErr("get chemicals", err)
	}
	fields.Categories, err = s.qry.GetProductCategories(ctx, product.ID)
	if err != nil {
		return UploadRequest{}, storageErr("get categories", err)
	}

	images, err := s.qry.GetProductImages(ctx, product.ID)
	if err != nil {
		return UploadRequest{}, storageErr("get product images", err)
	}
	var paths []string
	for _, image := range images {
		if ImageStatus(image.DownloadStatus) == ImageOptimized && image.OptimizedPath.Valid {
			paths = append(paths, image.OptimizedPath.String)
		}
	}

	return UploadRequest{
		Fields:     fields,
		ExternalID: product.ExternalProductID.String,
		ImagePaths: paths,
	}, nil
}

// forceRedownload walks finished or failed image-stage products back
// to image_downloading and resets their image rows to pending. Attempt
// counters survive the reset for audit continuity.
func (s *Service) forceRedownload(ctx context.Context, fileID int64) error {
	for _, from := range []ProductStatus{ProductImageDownloaded, ProductImageError} {
		products, err := s.qry.GetProductsByStatus(ctx, db.GetProductsByStatusParams{
			InputFileID: fileID,
			Status:      string(from),
		})
		if err != nil {
			return storageErr("get products by status", err)
		}
		for _, product := range products {
			err := s.withTx(ctx, "force redownload", func(q *db.Queries) error {
				rows, err := q.TransitionProduct(ctx, db.TransitionProductParams{
					ID:        product.ID,
					From:      string(from),
					To:        string(ProductImageDownloading),
					UpdatedAt: now(),
				})
				if err != nil {
					return storageErr("transition product", err)
				}
				if rows == 0 {
					return nil
				}
				_, err = q.ResetImagesForRedownload(ctx, product.ID)
				if err != nil {
					return storageErr("reset images", err)
				}
				return logEntry(ctx, q, fileID, product.ID, "info", "images reset for redownload", "")
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
