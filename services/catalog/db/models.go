package db

import "database/sql"

type InputFile struct {
	ID                int64
	Filename          string
	FilePath          string
	FileType          string
	FileSize          sql.NullInt64
	OriginInfo        sql.NullString
	Status            string
	TotalProducts     int64
	ProcessedProducts int64
	ErrorProducts     int64
	CreatedAt         int64
	ProcessedAt       sql.NullInt64
	ErrorMessage      sql.NullString
}

type Product struct {
	ID              int64
	InputFileID     int64
	Status          string
	SourceReference string
	ScrapedAt       sql.NullInt64

	Name         sql.NullString
	Brand        sql.NullString
	UnitsPerPack sql.NullString
	NetVolume    sql.NullString

	Flavor      sql.NullString
	GlutenFree  bool
	Vegan       bool
	Whitening   bool
	Format      sql.NullString
	ForChildren bool
	ParabenFree bool

	OperationNoticeNumber sql.NullString
	ShelfLife             sql.NullString

	FullDescription sql.NullString

	ExternalProductID sql.NullString
	WoocommercePostID sql.NullInt64

	CreatedAt    int64
	UpdatedAt    int64
	ProcessedAt  sql.NullInt64
	ErrorMessage sql.NullString
}

type ProductImage struct {
	ID               int64
	ProductID        int64
	ImageUrl         string
	LocalPath        sql.NullString
	DownloadStatus   string
	DownloadAttempts int64
	FileSize         sql.NullInt64
	OptimizedPath    sql.NullString
	Width            sql.NullInt64
	Height           sql.NullInt64
	DisplayOrder     int64
	DownloadedAt     sql.NullInt64
	ErrorMessage     sql.NullString
}

type ProcessingLog struct {
	ID          int64
	InputFileID sql.NullInt64
	ProductID   sql.NullInt64
	LogLevel    string
	Message     string
	Details     sql.NullString
	CreatedAt   int64
}

type StoreConfig struct {
	ID         int64
	StoreName  string
	BaseUrl    sql.NullString
	ConfigJson string
	IsActive   bool
	CreatedAt  int64
	UpdatedAt  int64
}
