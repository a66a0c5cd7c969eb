package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/testutil"
	"catalogsync-backend/services/catalog/db"

	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(reference string) (ProductFields, error)
}

func (f *fakeExtractor) Extract(_ context.Context, reference string) (ProductFields, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[reference]++
	f.mu.Unlock()
	return f.fn(reference)
}

func (f *fakeExtractor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(url string, call int) ([]byte, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	call := f.calls[url]
	f.mu.Unlock()
	if f.fn == nil {
		return []byte("image-bytes"), nil
	}
	return f.fn(url, call)
}

type fakeOptimizer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, raw []byte) ([]byte, int, int, error)
}

func (f *fakeOptimizer) Optimize(raw []byte) ([]byte, int, int, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return raw, 100, 80, nil
	}
	return f.fn(call, raw)
}

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	reqs  []UploadRequest
	fn    func(req UploadRequest) (int64, error)
}

func (f *fakeUploader) Upsert(_ context.Context, req UploadRequest) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn == nil {
		return int64(1000 + len(req.Fields.Name)), nil
	}
	return f.fn(req)
}

func testConfig(t testing.TB) Config {
	return Config{
		ImageDir:              t.TempDir(),
		OptimizedDir:          t.TempDir(),
		MaxRetries:            3,
		RetryBaseDelayMs:      1,
		RetryMaxDelayMs:       2,
		AdapterTimeoutSeconds: 30,
	}
}

func setup(t testing.TB, adapters Adapters) (*Service, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/catalog",
		DbSchema: db.Schema,
	})
	return NewService(res.DB, adapters, testConfig(t)), cleanup
}

// seedFile registers a file with one placeholder product per reference,
// mirroring what ingestion produces.
func seedFile(t testing.TB, svc *Service, name string, references []string) int64 {
	ctx := context.Background()
	file, err := svc.qry.CreateInputFile(ctx, db.CreateInputFileParams{
		Filename:  name,
		FilePath:  "/input/" + name,
		FileType:  "csv",
		CreatedAt: now(),
	})
	require.NoError(t, err)

	for i, reference := range references {
		_, err := svc.qry.CreateProduct(ctx, db.CreateProductParams{
			InputFileID:       file.ID,
			SourceReference:   reference,
			ExternalProductID: sql.NullString{String: fmt.Sprintf("cs-%s-%d", name, i), Valid: true},
			CreatedAt:         now(),
			UpdatedAt:         now(),
		})
		require.NoError(t, err)
	}
	err = svc.qry.SetInputFileTotalProducts(ctx, db.SetInputFileTotalProductsParams{
		ID:            file.ID,
		TotalProducts: int64(len(references)),
	})
	require.NoError(t, err)
	return file.ID
}

func productByReference(t testing.TB, svc *Service, fileID int64, reference string) db.Product {
	row := svc.database.QueryRow(
		`SELECT id FROM products WHERE input_file_id = ? AND source_reference = ?`,
		fileID, reference)
	var id int64
	require.NoError(t, row.Scan(&id))
	product, err := svc.qry.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product
}

func simpleFields(name string, imageURLs ...string) ProductFields {
	return ProductFields{
		Name:      name,
		Brand:     "NaturalCare",
		Vegan:     true,
		ImageURLs: imageURLs,
	}
}

func TestPipelineHappyPath(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		switch reference {
		case "https://store.test/a":
			return simpleFields("Product A", "https://img.test/a0.jpg"), nil
		case "https://store.test/b":
			return simpleFields("Product B", "https://img.test/b0.jpg"), nil
		}
		return ProductFields{}, retrier.Permanent(errors.New("unknown reference"))
	}}
	// product B's image fails twice before succeeding
	fetcher := &fakeFetcher{fn: func(url string, call int) ([]byte, error) {
		if url == "https://img.test/b0.jpg" && call <= 2 {
			return nil, retrier.Transient(errors.New("connection reset"))
		}
		return []byte("image-bytes"), nil
	}}
	uploader := &fakeUploader{}

	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{
		"https://store.test/a",
		"https://store.test/b",
	})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessed), file.Status)
	require.EqualValues(t, 2, file.ProcessedProducts)
	require.EqualValues(t, 0, file.ErrorProducts)
	require.True(t, file.ProcessedAt.Valid)

	for _, reference := range []string{"https://store.test/a", "https://store.test/b"} {
		product := productByReference(t, svc, fileID, reference)
		require.Equal(t, string(ProductUploaded), product.Status)
		require.True(t, product.WoocommercePostID.Valid)
		require.True(t, product.ScrapedAt.Valid)
	}

	productB := productByReference(t, svc, fileID, "https://store.test/b")
	images, err := svc.qry.GetProductImages(ctx, productB.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, string(ImageOptimized), images[0].DownloadStatus)
	require.EqualValues(t, 3, images[0].DownloadAttempts)

	require.Equal(t, 2, uploader.calls)
	require.Len(t, uploader.reqs[0].ImagePaths, 1)
}

func TestIdempotentResume(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	fetcher := &fakeFetcher{}
	uploader := &fakeUploader{}

	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	extractCalls := extractor.total()
	fetchCalls := len(fetcher.calls)
	uploadCalls := uploader.calls

	// a finished file is not active, and even a direct re-process
	// finds no eligible work
	require.NoError(t, svc.Run(ctx, RunOptions{}))
	require.NoError(t, svc.ProcessFile(ctx, fileID, RunOptions{}))

	require.Equal(t, extractCalls, extractor.total())
	require.Equal(t, fetchCalls, len(fetcher.calls))
	require.Equal(t, uploadCalls, uploader.calls)
}

func TestExtractionRetryExhaustion(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return ProductFields{}, retrier.Transient(errors.New("timeout"))
	}}
	svc, cleanup := setup(t, Adapters{Extractor: extractor})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductFailed), product.Status)
	require.Contains(t, product.ErrorMessage.String, "timeout")
	require.Equal(t, 3, extractor.total())

	logs, err := svc.qry.GetProductLogs(ctx, product.ID)
	require.NoError(t, err)
	attempts := 0
	for _, l := range logs {
		if l.Message == "extraction attempt failed" {
			attempts++
			require.Equal(t, "warning", l.LogLevel)
		}
	}
	require.Equal(t, 3, attempts)

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessedWithErrors), file.Status)
	require.EqualValues(t, 1, file.ErrorProducts)
	require.EqualValues(t, 0, file.ProcessedProducts)
}

func TestValidationErrorSkipsRetries(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		// extraction succeeds but produces no name
		return ProductFields{Brand: "X"}, nil
	}}
	svc, cleanup := setup(t, Adapters{Extractor: extractor})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductFailed), product.Status)
	require.Contains(t, product.ErrorMessage.String, "validation")
	require.Equal(t, 1, extractor.total())
}

func TestPermanentUploadError(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product " + reference), nil
	}}
	uploader := &fakeUploader{fn: func(req UploadRequest) (int64, error) {
		if req.Fields.Name == "Product https://store.test/b" {
			return 0, retrier.Permanent(errors.New("sku rejected"))
		}
		return 500, nil
	}}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   &fakeFetcher{},
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{
		"https://store.test/a",
		"https://store.test/b",
		"https://store.test/c",
	})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	failed := productByReference(t, svc, fileID, "https://store.test/b")
	require.Equal(t, string(ProductFailed), failed.Status)
	require.False(t, failed.WoocommercePostID.Valid)

	logs, err := svc.qry.GetProductLogs(ctx, failed.ID)
	require.NoError(t, err)
	attempts := 0
	for _, l := range logs {
		if l.Message == "upload attempt failed" {
			attempts++
		}
	}
	require.Equal(t, 1, attempts, "permanent errors must not be retried")

	for _, reference := range []string{"https://store.test/a", "https://store.test/c"} {
		product := productByReference(t, svc, fileID, reference)
		require.Equal(t, string(ProductUploaded), product.Status)
	}

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessedWithErrors), file.Status)
	require.EqualValues(t, 2, file.ProcessedProducts)
	require.EqualValues(t, 1, file.ErrorProducts)
}

func TestPrimaryImageFailureFailsProduct(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product",
			"https://img.test/primary.jpg", "https://img.test/secondary.jpg"), nil
	}}
	fetcher := &fakeFetcher{fn: func(url string, call int) ([]byte, error) {
		if url == "https://img.test/primary.jpg" {
			return nil, retrier.Transient(errors.New("unreachable"))
		}
		return []byte("image-bytes"), nil
	}}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductFailed), product.Status)
	require.Contains(t, product.ErrorMessage.String, "primary image")
	require.Equal(t, 0, uploader.calls)

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, string(ImageError), images[0].DownloadStatus)
	require.EqualValues(t, 3, images[0].DownloadAttempts)
	require.Equal(t, string(ImageOptimized), images[1].DownloadStatus)

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessedWithErrors), file.Status)
	require.EqualValues(t, 1, file.ErrorProducts)
}

func TestSecondaryImageFailureProceeds(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product",
			"https://img.test/primary.jpg", "https://img.test/secondary.jpg"), nil
	}}
	fetcher := &fakeFetcher{fn: func(url string, call int) ([]byte, error) {
		if url == "https://img.test/secondary.jpg" {
			return nil, retrier.Permanent(errors.New("404"))
		}
		return []byte("image-bytes"), nil
	}}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductUploaded), product.Status)

	require.Equal(t, 1, uploader.calls)
	require.Len(t, uploader.reqs[0].ImagePaths, 1)

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, string(ImageOptimized), images[0].DownloadStatus)
	require.Equal(t, string(ImageError), images[1].DownloadStatus)
	require.EqualValues(t, 1, images[1].DownloadAttempts, "permanent image errors stop attempts")
}

func TestExtractOnlyStopsAfterScrape(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	fetcher := &fakeFetcher{}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{ExtractOnly: true}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductScraped), product.Status)
	require.Equal(t, 0, len(fetcher.calls))
	require.Equal(t, 0, uploader.calls)

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessing), file.Status)

	// a later full run picks up from the checkpoint
	require.NoError(t, svc.Run(ctx, RunOptions{}))
	product = productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductUploaded), product.Status)
	require.Equal(t, 1, extractor.total(), "scrape must not repeat")
}

func TestForceRedownload(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	fetcher := &fakeFetcher{}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{ExtractOnly: true}))

	// walk the product to image_downloaded, then force a refetch
	require.NoError(t, svc.forEachProduct(ctx, fileID, ProductScraped, 1, svc.startImages))
	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductImageDownloaded), product.Status)
	require.Equal(t, 1, fetcher.calls["https://img.test/0.jpg"])

	require.NoError(t, svc.Run(ctx, RunOptions{ForceRedownload: true}))

	product = productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductUploaded), product.Status)
	require.Equal(t, 2, fetcher.calls["https://img.test/0.jpg"])

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, images[0].DownloadAttempts, "attempts survive the reset")
	require.Equal(t, string(ImageOptimized), images[0].DownloadStatus)
}

// interruptImageStage walks a scraped product into image_downloading
// with its first image claimed, mimicking a run that died mid-stage.
func interruptImageStage(t testing.TB, svc *Service, product db.Product) db.ProductImage {
	ctx := context.Background()
	claimed, err := svc.claimProduct(ctx, product.ID, ProductScraped, ProductImageDownloading)
	require.NoError(t, err)
	require.True(t, claimed)

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.NotEmpty(t, images)

	_, claimed2, err := svc.qry.BeginImageAttempt(ctx, images[0].ID)
	require.NoError(t, err)
	require.True(t, claimed2)
	return images[0]
}

func TestResumeRefetchesInterruptedImage(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	fetcher := &fakeFetcher{}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{ExtractOnly: true}))

	// the previous run stored the bytes but died before optimizing
	product := productByReference(t, svc, fileID, "https://store.test/p")
	image := interruptImageStage(t, svc, product)
	rows, err := svc.qry.SetImageDownloaded(ctx, db.SetImageDownloadedParams{
		ID:           image.ID,
		LocalPath:    "/stale/raw.jpg",
		FileSize:     3,
		DownloadedAt: now(),
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product = productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductUploaded), product.Status)

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, string(ImageOptimized), images[0].DownloadStatus)
	require.True(t, images[0].OptimizedPath.Valid)
	require.EqualValues(t, 2, images[0].DownloadAttempts, "the interrupted attempt stays counted")

	require.Equal(t, 1, fetcher.calls["https://img.test/0.jpg"])
	require.Equal(t, 1, uploader.calls)
	require.Len(t, uploader.reqs[0].ImagePaths, 1, "uploads never ship without the optimized image")
}

func TestResumeFailsProductOnErroredPrimaryImage(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   &fakeFetcher{},
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{ExtractOnly: true}))

	// the previous run exhausted the primary image but died before
	// committing the product failure
	product := productByReference(t, svc, fileID, "https://store.test/p")
	image := interruptImageStage(t, svc, product)
	require.NoError(t, svc.qry.SetImageError(ctx, db.SetImageErrorParams{
		ID:           image.ID,
		ErrorMessage: sql.NullString{String: "unreachable", Valid: true},
	}))

	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product = productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductFailed), product.Status)
	require.Contains(t, product.ErrorMessage.String, "primary image")
	require.Equal(t, 0, uploader.calls)
	require.Equal(t, 1, extractor.total(), "resume must not rescrape")

	file, err := svc.qry.GetInputFile(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, string(FileProcessedWithErrors), file.Status)
	require.EqualValues(t, 1, file.ErrorProducts)
}

func TestTransientOptimizeFailureRetries(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	fetcher := &fakeFetcher{}
	optimizer := &fakeOptimizer{fn: func(call int, raw []byte) ([]byte, int, int, error) {
		if call == 1 {
			return nil, 0, 0, retrier.Transient(errors.New("decoder hiccup"))
		}
		return raw, 100, 80, nil
	}}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   fetcher,
		Optimizer: optimizer,
		Uploader:  &fakeUploader{},
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	product := productByReference(t, svc, fileID, "https://store.test/p")
	require.Equal(t, string(ProductUploaded), product.Status)

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, string(ImageOptimized), images[0].DownloadStatus)
	require.EqualValues(t, 2, images[0].DownloadAttempts,
		"an optimize failure spends a retry instead of forfeiting the budget")
	require.Equal(t, 2, fetcher.calls["https://img.test/0.jpg"])
}

func TestImageAttemptClaimIsExclusive(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product", "https://img.test/0.jpg"), nil
	}}
	svc, cleanup := setup(t, Adapters{Extractor: extractor})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{ExtractOnly: true}))
	product := productByReference(t, svc, fileID, "https://store.test/p")

	images, err := svc.qry.GetProductImages(ctx, product.ID)
	require.NoError(t, err)

	attempts, claimed, err := svc.qry.BeginImageAttempt(ctx, images[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.EqualValues(t, 1, attempts)

	// the claim is held, a second worker must lose
	_, claimed, err = svc.qry.BeginImageAttempt(ctx, images[0].ID)
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, svc.qry.ReleaseImageAttempt(ctx, db.ReleaseImageAttemptParams{
		ID:           images[0].ID,
		ErrorMessage: sql.NullString{String: "connection reset", Valid: true},
	}))

	attempts, claimed, err = svc.qry.BeginImageAttempt(ctx, images[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.EqualValues(t, 2, attempts)
}

func TestConcurrentFiles(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product " + reference), nil
	}}
	uploader := &fakeUploader{}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   &fakeFetcher{},
		Optimizer: &fakeOptimizer{},
		Uploader:  uploader,
	})
	defer cleanup()
	ctx := context.Background()

	var refsA, refsB []string
	for i := 0; i < 5; i++ {
		refsA = append(refsA, fmt.Sprintf("https://store.test/a%d", i))
		refsB = append(refsB, fmt.Sprintf("https://store.test/b%d", i))
	}
	fileA := seedFile(t, svc, "a.csv", refsA)
	fileB := seedFile(t, svc, "b.csv", refsB)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = svc.ProcessFile(ctx, fileA, RunOptions{})
	}()
	go func() {
		defer wg.Done()
		errs[1] = svc.ProcessFile(ctx, fileB, RunOptions{})
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for _, fileID := range []int64{fileA, fileB} {
		file, err := svc.qry.GetInputFile(ctx, fileID)
		require.NoError(t, err)
		require.Equal(t, string(FileProcessed), file.Status)
		require.EqualValues(t, 5, file.ProcessedProducts)
		require.EqualValues(t, 0, file.ErrorProducts)
		require.EqualValues(t, 5, file.TotalProducts)
	}
}

func TestReport(t *testing.T) {
	extractor := &fakeExtractor{fn: func(reference string) (ProductFields, error) {
		return simpleFields("Product"), nil
	}}
	svc, cleanup := setup(t, Adapters{
		Extractor: extractor,
		Fetcher:   &fakeFetcher{},
		Optimizer: &fakeOptimizer{},
		Uploader:  &fakeUploader{},
	})
	defer cleanup()
	ctx := context.Background()

	fileID := seedFile(t, svc, "batch.csv", []string{"https://store.test/p"})
	require.NoError(t, svc.Run(ctx, RunOptions{}))

	summaries, err := svc.Report(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, fileID, summaries[0].File.ID)
	require.EqualValues(t, 1, summaries[0].ByStatus[ProductUploaded])
}
