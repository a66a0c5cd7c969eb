package catalog

import "fmt"

// ProductStatus is the closed set of states a product moves through.
// The database enforces the same set with a CHECK constraint, this type
// exists so transitions in code are checked before they reach SQL.
type ProductStatus string

const (
	ProductPending          ProductStatus = "pending"
	ProductScraping         ProductStatus = "scraping"
	ProductScraped          ProductStatus = "scraped"
	ProductImageDownloading ProductStatus = "image_downloading"
	ProductImageDownloaded  ProductStatus = "image_downloaded"
	ProductImageError       ProductStatus = "image_error"
	ProductUploading        ProductStatus = "uploading"
	ProductUploaded         ProductStatus = "uploaded"
	ProductUploadError      ProductStatus = "upload_error"
	ProductFailed           ProductStatus = "failed"
)

// productTransitions lists every legal edge of the product state
// machine. failed is reachable from any non-terminal state and is
// special-cased in CanTransition.
var productTransitions = map[ProductStatus][]ProductStatus{
	ProductPending:          {ProductScraping},
	ProductScraping:         {ProductScraped},
	ProductScraped:          {ProductImageDownloading},
	ProductImageDownloading: {ProductImageDownloaded, ProductImageError},
	// image_downloaded moving back to image_downloading covers the
	// forced redownload directive
	ProductImageDownloaded: {ProductUploading, ProductImageDownloading},
	ProductImageError:      {ProductImageDownloading},
	ProductUploading:       {ProductUploaded, ProductUploadError},
	ProductUploadError:     {ProductUploading},
	ProductUploaded:        {},
	ProductFailed:          {},
}

func (s ProductStatus) Terminal() bool {
	return s == ProductUploaded || s == ProductFailed
}

func (s ProductStatus) Valid() bool {
	_, ok := productTransitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to is part of the
// state machine. Any non-terminal state may move to failed.
func (s ProductStatus) CanTransition(to ProductStatus) bool {
	if !s.Valid() || !to.Valid() {
		return false
	}
	if to == ProductFailed {
		return !s.Terminal()
	}
	for _, next := range productTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// FileStatus is the closed set of states an input file moves through.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileProcessed  FileStatus = "processed"
	// FileProcessedWithErrors is the degraded completion state: every
	// product reached a terminal status but at least one failed.
	FileProcessedWithErrors FileStatus = "processed_with_errors"
	// FileFailed marks structural failures of the batch itself, such
	// as an unreadable file, never individual product failures.
	FileFailed FileStatus = "failed"
)

var fileTransitions = map[FileStatus][]FileStatus{
	FilePending:             {FileProcessing, FileFailed},
	FileProcessing:          {FileProcessed, FileProcessedWithErrors, FileFailed},
	FileProcessed:           {},
	FileProcessedWithErrors: {},
	FileFailed:              {},
}

func (s FileStatus) Terminal() bool {
	return s == FileProcessed || s == FileProcessedWithErrors || s == FileFailed
}

func (s FileStatus) CanTransition(to FileStatus) bool {
	for _, next := range fileTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ImageStatus is the closed set of states of one image download.
type ImageStatus string

const (
	ImagePending     ImageStatus = "pending"
	ImageDownloading ImageStatus = "downloading"
	ImageDownloaded  ImageStatus = "downloaded"
	ImageOptimized   ImageStatus = "optimized"
	ImageError       ImageStatus = "error"
)

// Terminal reports whether an image needs no further work. error is
// terminal once attempts are exhausted, the attempt cap lives in the
// orchestrator config.
func (s ImageStatus) Terminal() bool {
	return s == ImageOptimized || s == ImageError
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %q -> %q", e.Entity, e.From, e.To)
}
