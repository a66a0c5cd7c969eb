package catalog

import (
	"context"

	"catalogsync-backend/services/catalog/db"
)

// FileSummary is one input file plus a breakdown of its products by
// status, used by the status report surface.
type FileSummary struct {
	File     db.InputFile
	ByStatus map[ProductStatus]int64
}

// Report summarizes every known input file.
func (s *Service) Report(ctx context.Context) ([]FileSummary, error) {
	files, err := s.qry.ListInputFiles(ctx)
	if err != nil {
		return nil, storageErr("list input files", err)
	}

	summaries := make([]FileSummary, 0, len(files))
	for _, file := range files {
		counts, err := s.qry.CountProductsByStatus(ctx, file.ID)
		if err != nil {
			return nil, storageErr("count products by status", err)
		}
		byStatus := map[ProductStatus]int64{}
		for _, c := range counts {
			byStatus[ProductStatus(c.Status)] = c.Count
		}
		summaries = append(summaries, FileSummary{File: file, ByStatus: byStatus})
	}
	return summaries, nil
}
