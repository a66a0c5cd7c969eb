package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"catalogsync-backend/services/catalog/db"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// IngestDir sweeps a directory for html snapshots and csv batches and
// registers any file the ledger has not seen yet. Already-known
// filenames are skipped so repeated sweeps are harmless.
func (s *Service) IngestDir(ctx context.Context, dir string) error {
	ctx, span := tracer.Start(ctx, "IngestDir")
	defer span.End()

	entries, err := os.ReadDir(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reading input dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".html" && ext != ".csv" {
			continue
		}
		_, err := s.IngestFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			if IsStorageError(err) {
				return err
			}
			slog.WarnContext(ctx, "skipping input file", "file", entry.Name(), "err", err)
		}
	}
	return nil
}

// IngestFile registers one batch. An html snapshot yields a single
// placeholder product pointing at the file itself, a csv yields one
// placeholder per referenced url. total_products is fixed at ingest
// time so completion is detectable from the counters alone.
func (s *Service) IngestFile(ctx context.Context, path string) (int64, error) {
	ctx, span := tracer.Start(ctx, "IngestFile")
	defer span.End()

	filename := filepath.Base(path)
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if fileType != "html" && fileType != "csv" {
		return 0, fmt.Errorf("unsupported input file type %q", fileType)
	}

	existing, err := s.qry.GetInputFileByFilename(ctx, db.GetInputFileByFilenameParams{
		Filename: filename,
		FileType: fileType,
	})
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("get input file by filename", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat input file: %w", err)
	}

	var references []string
	if fileType == "csv" {
		references, err = readCsvReferences(path)
		if err != nil {
			// a structurally broken batch still gets a ledger row, so
			// the rejection is visible and the sweep never retries it
			id, failErr := s.failStructurally(ctx, filename, path, fileType, info.Size(), err)
			if failErr != nil {
				return 0, failErr
			}
			return id, err
		}
	} else {
		references = []string{path}
	}

	var fileID int64
	err = s.withTx(ctx, "ingest file", func(q *db.Queries) error {
		file, err := q.CreateInputFile(ctx, db.CreateInputFileParams{
			Filename:  filename,
			FilePath:  path,
			FileType:  fileType,
			FileSize:  nullInt(info.Size()),
			CreatedAt: now(),
		})
		if err != nil {
			return storageErr("create input file", err)
		}
		fileID = file.ID

		ts := now()
		for _, reference := range references {
			externalID, err := random.String(12)
			if err != nil {
				return fmt.Errorf("generating external id: %w", err)
			}
			_, err = q.CreateProduct(ctx, db.CreateProductParams{
				InputFileID:       file.ID,
				SourceReference:   reference,
				ExternalProductID: nullStr("cs-" + externalID),
				CreatedAt:         ts,
				UpdatedAt:         ts,
			})
			if err != nil {
				return storageErr("create product", err)
			}
		}
		err = q.SetInputFileTotalProducts(ctx, db.SetInputFileTotalProductsParams{
			ID:            file.ID,
			TotalProducts: int64(len(references)),
		})
		if err != nil {
			return storageErr("set total products", err)
		}
		return logEntry(ctx, q, file.ID, 0, "info",
			"file ingested", fmt.Sprintf("%d products", len(references)))
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "ingested input file",
		"file", filename, "type", fileType, "products", len(references))
	return fileID, nil
}

// failStructurally registers a batch the pipeline can never process
// and marks it failed in the same transaction.
func (s *Service) failStructurally(ctx context.Context, filename, path, fileType string, size int64, cause error) (int64, error) {
	var fileID int64
	err := s.withTx(ctx, "fail input file", func(q *db.Queries) error {
		file, err := q.CreateInputFile(ctx, db.CreateInputFileParams{
			Filename:  filename,
			FilePath:  path,
			FileType:  fileType,
			FileSize:  nullInt(size),
			CreatedAt: now(),
		})
		if err != nil {
			return storageErr("create input file", err)
		}
		fileID = file.ID
		err = q.FailInputFile(ctx, db.FailInputFileParams{
			ID:           file.ID,
			ErrorMessage: nullStr(cause.Error()),
			ProcessedAt:  nullInt(now()),
		})
		if err != nil {
			return storageErr("fail input file", err)
		}
		return logEntry(ctx, q, file.ID, 0, "error", "file rejected", cause.Error())
	})
	if err != nil {
		return 0, err
	}
	slog.WarnContext(ctx, "input file rejected", "file", filename, "err", cause)
	return fileID, nil
}

// readCsvReferences pulls the product urls out of a csv batch. A
// column whose header mentions url or link is preferred, otherwise the
// first column is used. Duplicate urls within one file collapse.
func readCsvReferences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("csv is empty")
	}

	column := 0
	start := 0
	header := records[0]
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if strings.Contains(name, "url") || strings.Contains(name, "link") {
			column = i
			start = 1
			break
		}
	}
	// a headerless file whose first cell already looks like a url
	if start == 0 && len(header) > 0 && strings.HasPrefix(strings.TrimSpace(header[0]), "http") {
		start = 0
	} else if start == 0 {
		start = 1
	}

	seen := map[string]bool{}
	var references []string
	for _, record := range records[start:] {
		if column >= len(record) {
			continue
		}
		reference := strings.TrimSpace(record[column])
		if reference == "" || seen[reference] {
			continue
		}
		seen[reference] = true
		references = append(references, reference)
	}
	if len(references) == 0 {
		return nil, errors.New("csv contains no product references")
	}
	return references, nil
}
