package db

import (
	"context"
	"database/sql"
	"errors"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const inputFileColumns = `id, filename, file_path, file_type, file_size, origin_info, status,
total_products, processed_products, error_products, created_at, processed_at, error_message`

func scanInputFile(row interface{ Scan(...interface{}) error }) (InputFile, error) {
	var f InputFile
	err := row.Scan(
		&f.ID, &f.Filename, &f.FilePath, &f.FileType, &f.FileSize, &f.OriginInfo, &f.Status,
		&f.TotalProducts, &f.ProcessedProducts, &f.ErrorProducts,
		&f.CreatedAt, &f.ProcessedAt, &f.ErrorMessage,
	)
	return f, err
}

type CreateInputFileParams struct {
	Filename   string
	FilePath   string
	FileType   string
	FileSize   sql.NullInt64
	OriginInfo sql.NullString
	CreatedAt  int64
}

func (q *Queries) CreateInputFile(ctx context.Context, arg CreateInputFileParams) (InputFile, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO input_files (filename, file_path, file_type, file_size, origin_info, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+inputFileColumns,
		arg.Filename, arg.FilePath, arg.FileType, arg.FileSize, arg.OriginInfo, arg.CreatedAt,
	)
	return scanInputFile(row)
}

func (q *Queries) GetInputFile(ctx context.Context, id int64) (InputFile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+inputFileColumns+` FROM input_files WHERE id = ?`, id)
	return scanInputFile(row)
}

type GetInputFileByFilenameParams struct {
	Filename string
	FileType string
}

func (q *Queries) GetInputFileByFilename(ctx context.Context, arg GetInputFileByFilenameParams) (InputFile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+inputFileColumns+` FROM input_files WHERE filename = ? AND file_type = ? LIMIT 1`,
		arg.Filename, arg.FileType)
	return scanInputFile(row)
}

func (q *Queries) queryInputFiles(ctx context.Context, query string, args ...interface{}) ([]InputFile, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []InputFile
	for rows.Next() {
		f, err := scanInputFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (q *Queries) GetActiveInputFiles(ctx context.Context) ([]InputFile, error) {
	return q.queryInputFiles(ctx,
		`SELECT `+inputFileColumns+` FROM input_files WHERE status IN ('pending', 'processing') ORDER BY id`)
}

func (q *Queries) ListInputFiles(ctx context.Context) ([]InputFile, error) {
	return q.queryInputFiles(ctx,
		`SELECT `+inputFileColumns+` FROM input_files ORDER BY id`)
}

type TransitionInputFileParams struct {
	ID   int64
	From string
	To   string
}

// compare-and-swap on status, returns the number of rows changed
func (q *Queries) TransitionInputFile(ctx context.Context, arg TransitionInputFileParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET status = ? WHERE id = ? AND status = ?`,
		arg.To, arg.ID, arg.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type SetInputFileTotalProductsParams struct {
	ID            int64
	TotalProducts int64
}

func (q *Queries) SetInputFileTotalProducts(ctx context.Context, arg SetInputFileTotalProductsParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET total_products = ? WHERE id = ?`,
		arg.TotalProducts, arg.ID)
	return err
}

func (q *Queries) IncrementProcessedProducts(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET processed_products = processed_products + 1 WHERE id = ?`, id)
	return err
}

func (q *Queries) IncrementErrorProducts(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET error_products = error_products + 1 WHERE id = ?`, id)
	return err
}

type CompleteInputFileParams struct {
	ID          int64
	Status      string
	ProcessedAt sql.NullInt64
}

// marks a file as done, only valid while it is still in 'processing'
func (q *Queries) CompleteInputFile(ctx context.Context, arg CompleteInputFileParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET status = ?, processed_at = ? WHERE id = ? AND status = 'processing'`,
		arg.Status, arg.ProcessedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type FailInputFileParams struct {
	ID           int64
	ErrorMessage sql.NullString
	ProcessedAt  sql.NullInt64
}

func (q *Queries) FailInputFile(ctx context.Context, arg FailInputFileParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE input_files SET status = 'failed', error_message = ?, processed_at = ? WHERE id = ?`,
		arg.ErrorMessage, arg.ProcessedAt, arg.ID)
	return err
}

const productColumns = `id, input_file_id, status, source_reference, scraped_at,
name, brand, units_per_pack, net_volume,
flavor, gluten_free, vegan, whitening, format, for_children, paraben_free,
operation_notice_number, shelf_life, full_description,
external_product_id, woocommerce_post_id,
created_at, updated_at, processed_at, error_message`

func scanProduct(row interface{ Scan(...interface{}) error }) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.InputFileID, &p.Status, &p.SourceReference, &p.ScrapedAt,
		&p.Name, &p.Brand, &p.UnitsPerPack, &p.NetVolume,
		&p.Flavor, &p.GlutenFree, &p.Vegan, &p.Whitening, &p.Format, &p.ForChildren, &p.ParabenFree,
		&p.OperationNoticeNumber, &p.ShelfLife, &p.FullDescription,
		&p.ExternalProductID, &p.WoocommercePostID,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt, &p.ErrorMessage,
	)
	return p, err
}

type CreateProductParams struct {
	InputFileID       int64
	SourceReference   string
	ExternalProductID sql.NullString
	CreatedAt         int64
	UpdatedAt         int64
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO products (input_file_id, source_reference, external_product_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
RETURNING `+productColumns,
		arg.InputFileID, arg.SourceReference, arg.ExternalProductID, arg.CreatedAt, arg.UpdatedAt,
	)
	return scanProduct(row)
}

func (q *Queries) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

type GetProductsByStatusParams struct {
	InputFileID int64
	Status      string
}

func (q *Queries) GetProductsByStatus(ctx context.Context, arg GetProductsByStatusParams) ([]Product, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE input_file_id = ? AND status = ? ORDER BY id`,
		arg.InputFileID, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type ProductStatusCount struct {
	Status string
	Count  int64
}

func (q *Queries) CountProductsByStatus(ctx context.Context, inputFileID int64) ([]ProductStatusCount, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM products WHERE input_file_id = ? GROUP BY status ORDER BY status`,
		inputFileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ProductStatusCount
	for rows.Next() {
		var c ProductStatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type TransitionProductParams struct {
	ID        int64
	From      string
	To        string
	UpdatedAt int64
}

// compare-and-swap on status, first writer wins, returns the number of
// rows changed so the loser can observe it lost the claim
func (q *Queries) TransitionProduct(ctx context.Context, arg TransitionProductParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE products SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		arg.To, arg.UpdatedAt, arg.ID, arg.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type SetProductScrapedParams struct {
	ID                    int64
	Name                  sql.NullString
	Brand                 sql.NullString
	UnitsPerPack          sql.NullString
	NetVolume             sql.NullString
	Flavor                sql.NullString
	GlutenFree            bool
	Vegan                 bool
	Whitening             bool
	Format                sql.NullString
	ForChildren           bool
	ParabenFree           bool
	OperationNoticeNumber sql.NullString
	ShelfLife             sql.NullString
	FullDescription       sql.NullString
	ScrapedAt             int64
	UpdatedAt             int64
}

// persists extracted fields and advances 'scraping' -> 'scraped' in one statement
func (q *Queries) SetProductScraped(ctx context.Context, arg SetProductScrapedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE products SET
    status = 'scraped',
    name = ?, brand = ?, units_per_pack = ?, net_volume = ?,
    flavor = ?, gluten_free = ?, vegan = ?, whitening = ?,
    format = ?, for_children = ?, paraben_free = ?,
    operation_notice_number = ?, shelf_life = ?, full_description = ?,
    scraped_at = ?, updated_at = ?
WHERE id = ? AND status = 'scraping'`,
		arg.Name, arg.Brand, arg.UnitsPerPack, arg.NetVolume,
		arg.Flavor, arg.GlutenFree, arg.Vegan, arg.Whitening,
		arg.Format, arg.ForChildren, arg.ParabenFree,
		arg.OperationNoticeNumber, arg.ShelfLife, arg.FullDescription,
		arg.ScrapedAt, arg.UpdatedAt, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type SetProductUploadedParams struct {
	ID                int64
	WoocommercePostID int64
	ProcessedAt       int64
	UpdatedAt         int64
}

func (q *Queries) SetProductUploaded(ctx context.Context, arg SetProductUploadedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE products SET status = 'uploaded', woocommerce_post_id = ?, processed_at = ?, updated_at = ?
WHERE id = ? AND status = 'uploading'`,
		arg.WoocommercePostID, arg.ProcessedAt, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type FailProductParams struct {
	ID           int64
	From         string
	ErrorMessage sql.NullString
	ProcessedAt  sql.NullInt64
	UpdatedAt    int64
}

func (q *Queries) FailProduct(ctx context.Context, arg FailProductParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE products SET status = 'failed', error_message = ?, processed_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		arg.ErrorMessage, arg.ProcessedAt, arg.UpdatedAt, arg.ID, arg.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type AddProductTagParams struct {
	ProductID int64
	Value     string
}

func (q *Queries) AddProductBenefit(ctx context.Context, arg AddProductTagParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO product_benefits (product_id, benefit) VALUES (?, ?)`,
		arg.ProductID, arg.Value)
	return err
}

func (q *Queries) AddProductNaturalIngredient(ctx context.Context, arg AddProductTagParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO product_natural_ingredients (product_id, ingredient) VALUES (?, ?)`,
		arg.ProductID, arg.Value)
	return err
}

func (q *Queries) AddProductExcludedChemical(ctx context.Context, arg AddProductTagParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO product_excluded_chemicals (product_id, chemical) VALUES (?, ?)`,
		arg.ProductID, arg.Value)
	return err
}

func (q *Queries) AddProductCategory(ctx context.Context, arg AddProductTagParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO product_categories (product_id, category) VALUES (?, ?)`,
		arg.ProductID, arg.Value)
	return err
}

func (q *Queries) queryTags(ctx context.Context, query string, productID int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (q *Queries) GetProductBenefits(ctx context.Context, productID int64) ([]string, error) {
	return q.queryTags(ctx,
		`SELECT benefit FROM product_benefits WHERE product_id = ? ORDER BY id`, productID)
}

func (q *Queries) GetProductNaturalIngredients(ctx context.Context, productID int64) ([]string, error) {
	return q.queryTags(ctx,
		`SELECT ingredient FROM product_natural_ingredients WHERE product_id = ? ORDER BY id`, productID)
}

func (q *Queries) GetProductExcludedChemicals(ctx context.Context, productID int64) ([]string, error) {
	return q.queryTags(ctx,
		`SELECT chemical FROM product_excluded_chemicals WHERE product_id = ? ORDER BY id`, productID)
}

func (q *Queries) GetProductCategories(ctx context.Context, productID int64) ([]string, error) {
	return q.queryTags(ctx,
		`SELECT category FROM product_categories WHERE product_id = ? ORDER BY id`, productID)
}

const productImageColumns = `id, product_id, image_url, local_path, download_status, download_attempts,
file_size, optimized_path, width, height, display_order, downloaded_at, error_message`

func scanProductImage(row interface{ Scan(...interface{}) error }) (ProductImage, error) {
	var img ProductImage
	err := row.Scan(
		&img.ID, &img.ProductID, &img.ImageUrl, &img.LocalPath, &img.DownloadStatus,
		&img.DownloadAttempts, &img.FileSize, &img.OptimizedPath, &img.Width, &img.Height,
		&img.DisplayOrder, &img.DownloadedAt, &img.ErrorMessage,
	)
	return img, err
}

type CreateProductImageParams struct {
	ProductID    int64
	ImageUrl     string
	DisplayOrder int64
}

func (q *Queries) CreateProductImage(ctx context.Context, arg CreateProductImageParams) (ProductImage, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO product_images (product_id, image_url, display_order)
VALUES (?, ?, ?)
RETURNING `+productImageColumns,
		arg.ProductID, arg.ImageUrl, arg.DisplayOrder)
	return scanProductImage(row)
}

func (q *Queries) GetProductImages(ctx context.Context, productID int64) ([]ProductImage, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+productImageColumns+` FROM product_images WHERE product_id = ? ORDER BY display_order, id`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []ProductImage
	for rows.Next() {
		img, err := scanProductImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// claims an image for a download attempt, bumping the attempt counter.
// only pending rows are claimable, so two workers can never win the
// same attempt. returns the new counter, or false when the row was not
// claimed
func (q *Queries) BeginImageAttempt(ctx context.Context, id int64) (int64, bool, error) {
	row := q.db.QueryRowContext(ctx, `
UPDATE product_images SET download_status = 'downloading', download_attempts = download_attempts + 1
WHERE id = ? AND download_status = 'pending'
RETURNING download_attempts`,
		id)

	var attempts int64
	err := row.Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

type SetImageDownloadedParams struct {
	ID           int64
	LocalPath    string
	FileSize     int64
	DownloadedAt int64
}

func (q *Queries) SetImageDownloaded(ctx context.Context, arg SetImageDownloadedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE product_images SET download_status = 'downloaded', local_path = ?, file_size = ?, downloaded_at = ?, error_message = NULL
WHERE id = ? AND download_status = 'downloading'`,
		arg.LocalPath, arg.FileSize, arg.DownloadedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type SetImageOptimizedParams struct {
	ID            int64
	OptimizedPath string
	Width         int64
	Height        int64
}

func (q *Queries) SetImageOptimized(ctx context.Context, arg SetImageOptimizedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE product_images SET download_status = 'optimized', optimized_path = ?, width = ?, height = ?
WHERE id = ? AND download_status = 'downloaded'`,
		arg.OptimizedPath, arg.Width, arg.Height, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type ReleaseImageAttemptParams struct {
	ID           int64
	ErrorMessage sql.NullString
}

// records the failure of one attempt and returns the row to 'pending'
// so the next attempt can claim it again. also covers the attempt that
// got the bytes but failed to optimize them
func (q *Queries) ReleaseImageAttempt(ctx context.Context, arg ReleaseImageAttemptParams) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE product_images SET download_status = 'pending', error_message = ?
WHERE id = ? AND download_status IN ('downloading', 'downloaded')`,
		arg.ErrorMessage, arg.ID)
	return err
}

type SetImageErrorParams struct {
	ID           int64
	ErrorMessage sql.NullString
}

func (q *Queries) SetImageError(ctx context.Context, arg SetImageErrorParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE product_images SET download_status = 'error', error_message = ? WHERE id = ?`,
		arg.ErrorMessage, arg.ID)
	return err
}

// returns in-flight image rows of a file to 'pending'. run once per
// file before dispatching image work, it recovers claims a crashed run
// left behind. attempt counters are untouched
func (q *Queries) ReleaseStaleImageClaims(ctx context.Context, inputFileID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE product_images SET download_status = 'pending'
WHERE download_status IN ('downloading', 'downloaded')
  AND product_id IN (SELECT id FROM products WHERE input_file_id = ? AND status = 'image_downloading')`,
		inputFileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// puts already-fetched images back to 'pending' for a forced redownload,
// attempt counters are preserved for audit continuity
func (q *Queries) ResetImagesForRedownload(ctx context.Context, productID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE product_images SET
    download_status = 'pending',
    local_path = NULL, optimized_path = NULL,
    file_size = NULL, width = NULL, height = NULL,
    downloaded_at = NULL, error_message = NULL
WHERE product_id = ? AND download_status IN ('downloaded', 'optimized', 'error')`,
		productID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type CreateProcessingLogParams struct {
	InputFileID sql.NullInt64
	ProductID   sql.NullInt64
	LogLevel    string
	Message     string
	Details     sql.NullString
	CreatedAt   int64
}

func (q *Queries) CreateProcessingLog(ctx context.Context, arg CreateProcessingLogParams) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO processing_logs (input_file_id, product_id, log_level, message, details, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		arg.InputFileID, arg.ProductID, arg.LogLevel, arg.Message, arg.Details, arg.CreatedAt)
	return err
}

func (q *Queries) GetProductLogs(ctx context.Context, productID int64) ([]ProcessingLog, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, input_file_id, product_id, log_level, message, details, created_at
FROM processing_logs WHERE product_id = ? ORDER BY id`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ProcessingLog
	for rows.Next() {
		var l ProcessingLog
		err := rows.Scan(&l.ID, &l.InputFileID, &l.ProductID, &l.LogLevel, &l.Message, &l.Details, &l.CreatedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type CreateStoreConfigParams struct {
	StoreName  string
	BaseUrl    sql.NullString
	ConfigJson string
	IsActive   bool
	CreatedAt  int64
	UpdatedAt  int64
}

func (q *Queries) CreateStoreConfig(ctx context.Context, arg CreateStoreConfigParams) (StoreConfig, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO store_configs (store_name, base_url, config_json, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, store_name, base_url, config_json, is_active, created_at, updated_at`,
		arg.StoreName, arg.BaseUrl, arg.ConfigJson, arg.IsActive, arg.CreatedAt, arg.UpdatedAt)

	var c StoreConfig
	err := row.Scan(&c.ID, &c.StoreName, &c.BaseUrl, &c.ConfigJson, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (q *Queries) queryStoreConfigs(ctx context.Context, query string) ([]StoreConfig, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []StoreConfig
	for rows.Next() {
		var c StoreConfig
		err := rows.Scan(&c.ID, &c.StoreName, &c.BaseUrl, &c.ConfigJson, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (q *Queries) GetActiveStoreConfigs(ctx context.Context) ([]StoreConfig, error) {
	return q.queryStoreConfigs(ctx, `
SELECT id, store_name, base_url, config_json, is_active, created_at, updated_at
FROM store_configs WHERE is_active = 1 ORDER BY id`)
}

func (q *Queries) ListStoreConfigs(ctx context.Context) ([]StoreConfig, error) {
	return q.queryStoreConfigs(ctx, `
SELECT id, store_name, base_url, config_json, is_active, created_at, updated_at
FROM store_configs ORDER BY id`)
}
