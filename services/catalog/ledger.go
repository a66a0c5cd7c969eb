package catalog

import (
	"context"
	"database/sql"
	"log/slog"

	"catalogsync-backend/services/catalog/db"
)

// withTx runs fn inside one transaction. Every status transition and
// the counters it affects commit as a single unit so partial writes
// are never observable. Transaction failures are storage errors and
// abort the whole run.
func (s *Service) withTx(ctx context.Context, op string, fn func(q *db.Queries) error) error {
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(s.qry.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// claimProduct performs the optimistic in-progress transition. The
// first worker to flip the row wins, a losing worker sees claimed ==
// false and skips the unit.
func (s *Service) claimProduct(ctx context.Context, id int64, from, to ProductStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, &InvalidTransitionError{Entity: "product", From: string(from), To: string(to)}
	}
	rows, err := s.qry.TransitionProduct(ctx, db.TransitionProductParams{
		ID:        id,
		From:      string(from),
		To:        string(to),
		UpdatedAt: now(),
	})
	if err != nil {
		return false, storageErr("transition product", err)
	}
	return rows > 0, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

// nullID maps the zero id to NULL so log rows without a product do not
// trip the foreign key.
func nullID(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func logEntry(ctx context.Context, q *db.Queries, fileID, productID int64, level, message, details string) error {
	err := q.CreateProcessingLog(ctx, db.CreateProcessingLogParams{
		InputFileID: nullID(fileID),
		ProductID:   nullID(productID),
		LogLevel:    level,
		Message:     message,
		Details:     nullStr(details),
		CreatedAt:   now(),
	})
	return storageErr("create processing log", err)
}

// logAttemptFailure records one failed adapter attempt. It runs in its
// own transaction because attempts are audit events, not state.
func (s *Service) logAttemptFailure(ctx context.Context, fileID, productID int64, stage string, attempt int, cause error) {
	err := s.withTx(ctx, "log attempt", func(q *db.Queries) error {
		return logEntry(ctx, q, fileID, productID, "warning", stage+" attempt failed", cause.Error())
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record attempt failure",
			"product", productID, "stage", stage, "attempt", attempt, "err", err)
	}
}

// finalizeFile closes the file once every product reached a terminal
// state. Must run inside the same transaction as the counter bump that
// may have completed the file.
func finalizeFile(ctx context.Context, q *db.Queries, fileID int64) error {
	file, err := q.GetInputFile(ctx, fileID)
	if err != nil {
		return storageErr("get input file", err)
	}
	if FileStatus(file.Status) != FileProcessing {
		return nil
	}
	if file.TotalProducts == 0 || file.ProcessedProducts+file.ErrorProducts < file.TotalProducts {
		return nil
	}

	status := FileProcessed
	if file.ErrorProducts > 0 {
		status = FileProcessedWithErrors
	}
	_, err = q.CompleteInputFile(ctx, db.CompleteInputFileParams{
		ID:          fileID,
		Status:      string(status),
		ProcessedAt: nullInt(now()),
	})
	return storageErr("complete input file", err)
}

// commitProductUploaded persists the remote id, flips the product to
// uploaded, bumps the parent counter and possibly closes the file, all
// in one transaction.
func (s *Service) commitProductUploaded(ctx context.Context, fileID, productID, postID int64) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	return s.withTx(ctx, "commit upload", func(q *db.Queries) error {
		ts := now()
		rows, err := q.SetProductUploaded(ctx, db.SetProductUploadedParams{
			ID:                productID,
			WoocommercePostID: postID,
			ProcessedAt:       ts,
			UpdatedAt:         ts,
		})
		if err != nil {
			return storageErr("set product uploaded", err)
		}
		if rows == 0 {
			// another worker finished this product first
			return nil
		}
		if err := q.IncrementProcessedProducts(ctx, fileID); err != nil {
			return storageErr("increment processed", err)
		}
		if err := logEntry(ctx, q, fileID, productID, "info", "product uploaded", ""); err != nil {
			return err
		}
		return finalizeFile(ctx, q, fileID)
	})
}

// commitProductFailed walks the product into failed through the given
// intermediate error branch (when via is non-empty), bumps the error
// counter exactly once and records the cause. The counter bump shares
// the transaction with the status flip, so observing an
// already-failed product never double counts.
func (s *Service) commitProductFailed(ctx context.Context, fileID, productID int64, from, via ProductStatus, cause error) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	return s.withTx(ctx, "commit failure", func(q *db.Queries) error {
		ts := now()
		last := from
		if via != "" {
			if !from.CanTransition(via) {
				return &InvalidTransitionError{Entity: "product", From: string(from), To: string(via)}
			}
			rows, err := q.TransitionProduct(ctx, db.TransitionProductParams{
				ID:        productID,
				From:      string(from),
				To:        string(via),
				UpdatedAt: ts,
			})
			if err != nil {
				return storageErr("transition product", err)
			}
			if rows == 0 {
				return nil
			}
			last = via
		}
		if !last.CanTransition(ProductFailed) {
			return &InvalidTransitionError{Entity: "product", From: string(last), To: string(ProductFailed)}
		}
		rows, err := q.FailProduct(ctx, db.FailProductParams{
			ID:           productID,
			From:         string(last),
			ErrorMessage: nullStr(cause.Error()),
			ProcessedAt:  nullInt(ts),
			UpdatedAt:    ts,
		})
		if err != nil {
			return storageErr("fail product", err)
		}
		if rows == 0 {
			return nil
		}
		if err := q.IncrementErrorProducts(ctx, fileID); err != nil {
			return storageErr("increment errors", err)
		}
		if err := logEntry(ctx, q, fileID, productID, "error", "product failed", cause.Error()); err != nil {
			return err
		}
		return finalizeFile(ctx, q, fileID)
	})
}
