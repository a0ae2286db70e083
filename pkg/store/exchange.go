package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/hashicorp/go-version"
	"gorm.io/gorm"
)

// Export writes the scan as an indented JSON document. Only redacted values
// and snippets are ever part of it.
func (s *Store) Export(ctx context.Context, scanID string, w io.Writer) error {
	rec, err := s.readScan(ctx, scanID)
	if err == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rec); encErr != nil {
			err = model.StoreError(model.CodeTxFailed, fmt.Errorf("encode export: %w", encErr))
		}
	}
	return s.record(model.AuditScanExport, "", scanID, len(rec.FileResults)+rec.MatchCount(), err)
}

// Import stores a document written by Export. The scan id of the document is kept.
func (s *Store) Import(ctx context.Context, r io.Reader) (model.ScanRecord, error) {
	var rec model.ScanRecord
	err := json.NewDecoder(r).Decode(&rec)
	switch {
	case err != nil:
		err = model.Errorf(model.KindStore, model.CodeInvalid, "decode import: %w", err)
	case rec.ScanID == "":
		err = model.Errorf(model.KindStore, model.CodeInvalid, "import document has no scan_id")
	default:
		err = s.save(ctx, &rec)
	}
	return rec, s.record(model.AuditScanImport, "", rec.ScanID, len(rec.FileResults)+rec.MatchCount(), err)
}

// RelabelRequest carries scores from a retrained classifier.
type RelabelRequest struct {
	ScanID       string
	ModelVersion string
	// Scores maps match ids to the new confidence
	Scores    map[string]float64
	Threshold float64
}

// Relabel applies new classifier scores to matches no human has reviewed,
// but only where the model version is strictly newer than the one that
// produced the stored confidence. Test data stays FP. Labels of the
// affected files follow the new verdicts.
func (s *Store) Relabel(ctx context.Context, req RelabelRequest) (int, error) {
	n, err := s.relabel(ctx, req)
	return n, s.record(model.AuditRelabel, "", req.ScanID, n, err)
}

func (s *Store) relabel(ctx context.Context, req RelabelRequest) (int, error) {
	next, err := version.NewVersion(req.ModelVersion)
	if err != nil {
		return 0, model.Errorf(model.KindStore, model.CodeInvalid, "model version %q: %w", req.ModelVersion, err)
	}
	if len(req.Scores) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(req.Scores))
	for id := range req.Scores {
		ids = append(ids, id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated := 0
	touched := map[string]struct{}{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("id IN ? AND reviewed_by = ?", ids, "")
		if req.ScanID != "" {
			q = q.Where("scan_id = ?", req.ScanID)
		}
		var rows []matchRow
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if row.ModelVersion != "" {
				prev, err := version.NewVersion(row.ModelVersion)
				if err == nil && !next.GreaterThan(prev) {
					continue
				}
			}
			conf := min(max(req.Scores[row.ID], 0), 1)
			verdict := model.VerdictPending
			switch {
			case row.IsTest:
				verdict = model.VerdictFP
			case conf >= req.Threshold:
				verdict = model.VerdictTP
			}
			res := tx.Model(&matchRow{}).Where("id = ?", row.ID).Updates(map[string]any{
				"confidence":    conf,
				"model_version": next.Original(),
				"verdict":       string(verdict),
			})
			if res.Error != nil {
				return res.Error
			}
			updated += int(res.RowsAffected)
			touched[row.FileID] = struct{}{}
		}
		for _, fileID := range slices.Sorted(maps.Keys(touched)) {
			if err := s.refreshLabel(tx, fileID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, model.StoreError(model.CodeTxFailed, err)
	}
	return updated, nil
}
