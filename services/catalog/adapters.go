package catalog

import "context"

// ProductFields carries everything an extractor pulls out of a product
// page. Zero values mean the field was absent.
type ProductFields struct {
	Name         string
	Brand        string
	UnitsPerPack string
	NetVolume    string

	Flavor      string
	GlutenFree  bool
	Vegan       bool
	Whitening   bool
	Format      string
	ForChildren bool
	ParabenFree bool

	OperationNoticeNumber string
	ShelfLife             string
	FullDescription       string

	Benefits           []string
	NaturalIngredients []string
	ExcludedChemicals  []string
	Categories         []string
	ImageURLs          []string
}

// Validate enforces the minimum an extraction must produce before the
// product may advance.
func (f *ProductFields) Validate() error {
	if f.Name == "" {
		return &ValidationError{Field: "name", Reason: "missing"}
	}
	return nil
}

// Extractor turns a source reference (a URL or a local HTML snapshot
// path) into structured product fields. Implementations must be free
// of side effects so a failed call can be retried.
type Extractor interface {
	Extract(ctx context.Context, reference string) (ProductFields, error)
}

// UploadRequest is the unit handed to the catalog uploader.
type UploadRequest struct {
	Fields ProductFields
	// ExternalID correlates retried uploads, re-sending the same id
	// must update rather than duplicate.
	ExternalID string
	// ImagePaths are local paths of the optimized images, primary
	// first.
	ImagePaths []string
}

// Uploader publishes one product to the remote catalog and returns the
// remote post id.
type Uploader interface {
	Upsert(ctx context.Context, req UploadRequest) (int64, error)
}

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageOptimizer re-encodes raw bytes into the upload format and
// reports the final dimensions.
type ImageOptimizer interface {
	Optimize(raw []byte) (optimized []byte, width, height int, err error)
}
