// Package store persists scan results encrypted at rest and audits every access.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/label"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rxwycdh/rxhash"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	Path string
	// AuditPath defaults to Path + ".audit.jsonl"
	AuditPath string
	Actor     string
	Keys      KeyProvider
	// MaxOpenConns bounds concurrent readers, default 4
	MaxOpenConns int
	// Labels recomputes file labels after verdict changes, default tier table
	// when nil
	Labels *label.Resolver
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Path:      cfg.Store.Path,
		AuditPath: cfg.Store.AuditPath,
		Actor:     cfg.Actor,
		Keys:      ProviderFromConfig(cfg.Store),
		Labels:    label.New(cfg.Labels),
	}
}

// Store is safe for concurrent use. Writes are serialized, reads run in their
// own transaction and see a consistent snapshot.
type Store struct {
	db      *gorm.DB
	seal    *sealer
	audit   *AuditLog
	labels  *label.Resolver
	actor   string
	writeMu sync.Mutex

	// fault injects failures at named points, tests only
	fault func(point string) error
}

// AuditLogPath is where the audit log of the store at Path lives.
func (o Options) AuditLogPath() string {
	if o.AuditPath != "" {
		return o.AuditPath
	}
	return o.Path + ".audit.jsonl"
}

// Open obtains the key, opens the database and verifies the key against it.
// Every attempt is audited, including one failing on the key.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, model.Errorf(model.KindConfig, model.CodeInvalid, "store path is empty")
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, model.StoreError(model.CodeOpenFailed, err)
		}
	}

	audit, err := OpenAuditLog(opts.AuditLogPath())
	if err != nil {
		return nil, model.StoreError(model.CodeAuditFailed, err)
	}

	s := &Store{audit: audit, actor: opts.Actor, labels: opts.Labels}
	if s.labels == nil {
		s.labels = label.New(config.DefaultLabels())
	}
	if err := s.open(ctx, opts); err != nil {
		err = s.record(model.AuditStoreOpen, s.actor, "", 0, err)
		if s.db != nil {
			s.closeDB()
		}
		_ = audit.Close()
		return nil, err
	}
	if err := s.record(model.AuditStoreOpen, s.actor, "", 0, nil); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) open(ctx context.Context, opts Options) error {
	if opts.Keys == nil {
		return keyUnavailable("no key provider configured")
	}
	key, err := opts.Keys.Key(ctx)
	if err != nil {
		return model.AsError(err, model.KindKeyUnavailable, "")
	}
	if s.seal, err = newSealer(key); err != nil {
		return model.NewError(model.KindKeyUnavailable, "", err)
	}

	dsn := opts.Path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return model.StoreError(model.CodeOpenFailed, fmt.Errorf("open sqlite %s: %w", opts.Path, err))
	}
	s.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return model.StoreError(model.CodeOpenFailed, err)
	}
	conns := opts.MaxOpenConns
	if conns <= 0 {
		conns = 4
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.WithContext(ctx).AutoMigrate(&scanRow{}, &fileRow{}, &matchRow{}, &metaRow{}); err != nil {
		return model.StoreError(model.CodeOpenFailed, fmt.Errorf("migrate: %w", err))
	}
	return s.checkKey(ctx)
}

// checkKey stores a sealed marker on first use and verifies it afterwards.
func (s *Store) checkKey(ctx context.Context) error {
	var row metaRow
	err := s.db.WithContext(ctx).Where("name = ?", metaKeyCheck).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sealed, err := s.seal.sealString(tableMeta, metaKeyCheck, "value", keyCheckText)
		if err != nil {
			return model.StoreError(model.CodeOpenFailed, err)
		}
		if err := s.db.WithContext(ctx).Create(&metaRow{Name: metaKeyCheck, Value: sealed}).Error; err != nil {
			return model.StoreError(model.CodeOpenFailed, err)
		}
		return nil
	}
	if err != nil {
		return model.StoreError(model.CodeOpenFailed, err)
	}
	if v, err := s.seal.openString(tableMeta, metaKeyCheck, "value", row.Value); err != nil || v != keyCheckText {
		return model.Errorf(model.KindStore, model.CodeKeyMismatch, "store key does not match %s", tableMeta)
	}
	return nil
}

func (s *Store) closeDB() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *Store) Close() error {
	if s.db != nil {
		s.closeDB()
	}
	return s.audit.Close()
}

func (s *Store) AuditPath() string {
	return s.audit.Path()
}

// record appends the audit entry for one operation and returns err. An audit
// failure on an otherwise successful operation is returned as audit_failed.
func (s *Store) record(action model.AuditAction, actor, scanID string, count int, err error) error {
	if actor == "" {
		actor = s.actor
	}
	e := model.AuditLogEntry{
		Action:              action,
		Actor:               actor,
		AffectedRecordCount: count,
		ScanID:              scanID,
		Success:             err == nil,
	}
	if err != nil {
		me := model.AsError(err, model.KindStore, model.CodeTxFailed)
		e.ErrorKind, e.ErrorCode = me.Kind, me.Code
		err = me
	}
	if aerr := s.audit.Append(e); aerr != nil {
		log.Error().Err(aerr).Str("action", string(action)).Msg("Failed writing audit entry")
		if err == nil {
			return model.StoreError(model.CodeAuditFailed, aerr)
		}
	}
	return err
}

func (s *Store) inject(point string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(point)
}

// ScanID derives a stable id from the scanned root and start time.
func ScanID(sourcePath string, startedAt time.Time) string {
	h, err := rxhash.HashStruct(struct {
		SourcePath string
		StartedAt  int64
	}{sourcePath, startedAt.UnixNano()})
	if err != nil || h == "" {
		return uuid.NewString()
	}
	if len(h) > 32 {
		h = h[:32]
	}
	return h
}

// SaveScan persists rec in one transaction. Missing scan and match ids are
// assigned in place. Nothing is written when any part fails.
func (s *Store) SaveScan(ctx context.Context, rec *model.ScanRecord) error {
	err := s.save(ctx, rec)
	return s.record(model.AuditScanSave, "", rec.ScanID, len(rec.FileResults)+rec.MatchCount(), err)
}

func (s *Store) save(ctx context.Context, rec *model.ScanRecord) error {
	if rec.ScanID == "" {
		rec.ScanID = ScanID(rec.SourcePath, rec.StartedAt)
	}
	for i := range rec.FileResults {
		for j := range rec.FileResults[i].Matches {
			if rec.FileResults[i].Matches[j].ID == "" {
				rec.FileResults[i].Matches[j].ID = uuid.NewString()
			}
		}
	}

	scan, files, matches, err := s.toRows(rec)
	if err != nil {
		return model.StoreError(model.CodeTxFailed, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&scan).Error; err != nil {
			return err
		}
		if len(files) > 0 {
			if err := tx.CreateInBatches(files, 100).Error; err != nil {
				return err
			}
		}
		if len(matches) > 0 {
			if err := tx.CreateInBatches(matches, 200).Error; err != nil {
				return err
			}
		}
		return s.inject("save:commit")
	})
	if err != nil {
		return model.StoreError(model.CodeTxFailed, fmt.Errorf("save scan %s: %w", rec.ScanID, err))
	}
	return nil
}

// GetScan reads a full scan record.
func (s *Store) GetScan(ctx context.Context, scanID string) (model.ScanRecord, error) {
	rec, err := s.readScan(ctx, scanID)
	return rec, s.record(model.AuditScanRead, "", scanID, len(rec.FileResults)+rec.MatchCount(), err)
}

func (s *Store) readScan(ctx context.Context, scanID string) (model.ScanRecord, error) {
	var (
		scan    scanRow
		files   []fileRow
		matches []matchRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", scanID).Take(&scan).Error; err != nil {
			return err
		}
		if err := tx.Where("scan_id = ?", scanID).Order("seq").Find(&files).Error; err != nil {
			return err
		}
		return tx.Where("scan_id = ?", scanID).Order("file_id, seq").Find(&matches).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ScanRecord{}, model.Errorf(model.KindStore, model.CodeNotFound, "scan %s not found", scanID)
	}
	if err != nil {
		return model.ScanRecord{}, model.StoreError(model.CodeTxFailed, err)
	}
	rec, err := s.fromRows(scan, files, matches)
	if err != nil {
		return model.ScanRecord{}, model.StoreError(model.CodeKeyMismatch, err)
	}
	return rec, nil
}

// ScanInfo summarizes one stored scan.
type ScanInfo struct {
	ScanID      string    `json:"scan_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	SourcePath  string    `json:"source_path"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	Files       int       `json:"files"`
	Matches     int       `json:"matches"`
	Pending     int       `json:"pending"`
}

type countRow struct {
	ScanID string
	N      int
}

func (s *Store) ListScans(ctx context.Context) ([]ScanInfo, error) {
	infos, err := s.listScans(ctx)
	return infos, s.record(model.AuditScanList, "", "", len(infos), err)
}

func (s *Store) listScans(ctx context.Context) ([]ScanInfo, error) {
	var (
		scans                   []scanRow
		files, matches, pending []countRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("started_at").Find(&scans).Error; err != nil {
			return err
		}
		if err := tx.Model(&fileRow{}).Select("scan_id, count(*) as n").Group("scan_id").Scan(&files).Error; err != nil {
			return err
		}
		if err := tx.Model(&matchRow{}).Select("scan_id, count(*) as n").Where("is_test = ?", false).Group("scan_id").Scan(&matches).Error; err != nil {
			return err
		}
		return tx.Model(&matchRow{}).Select("scan_id, count(*) as n").Where("verdict = ?", model.VerdictPending).Group("scan_id").Scan(&pending).Error
	})
	if err != nil {
		return nil, model.StoreError(model.CodeTxFailed, err)
	}

	index := func(rows []countRow) map[string]int {
		m := make(map[string]int, len(rows))
		for _, r := range rows {
			m[r.ScanID] = r.N
		}
		return m
	}
	fc, mc, pc := index(files), index(matches), index(pending)

	infos := make([]ScanInfo, 0, len(scans))
	for _, sc := range scans {
		src, err := s.seal.openString(tableScans, sc.ID, "source_path", sc.SourcePath)
		if err != nil {
			return nil, model.StoreError(model.CodeKeyMismatch, err)
		}
		infos = append(infos, ScanInfo{
			ScanID:      sc.ID,
			StartedAt:   sc.StartedAt,
			CompletedAt: sc.CompletedAt,
			SourcePath:  src,
			Cancelled:   sc.Cancelled,
			Files:       fc[sc.ID],
			Matches:     mc[sc.ID],
			Pending:     pc[sc.ID],
		})
	}
	return infos, nil
}

// MatchRef is a stored match with the file it belongs to.
type MatchRef struct {
	ScanID   string              `json:"scan_id"`
	FileID   string              `json:"file_id"`
	FilePath string              `json:"file_path"`
	Match    model.ResolvedMatch `json:"match"`
}

// MatchFilter selects matches. Zero fields match everything.
type MatchFilter struct {
	ScanID      string
	Verdicts    []model.Verdict
	EntityTypes []model.EntityType
}

func (s *Store) ListMatches(ctx context.Context, filter MatchFilter) ([]MatchRef, error) {
	refs, err := s.listMatches(ctx, filter)
	return refs, s.record(model.AuditMatchList, "", filter.ScanID, len(refs), err)
}

func (s *Store) listMatches(ctx context.Context, filter MatchFilter) ([]MatchRef, error) {
	var (
		matches []matchRow
		files   []fileRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&matchRow{})
		fq := tx.Model(&fileRow{})
		if filter.ScanID != "" {
			q = q.Where("scan_id = ?", filter.ScanID)
			fq = fq.Where("scan_id = ?", filter.ScanID)
		}
		if len(filter.Verdicts) > 0 {
			q = q.Where("verdict IN ?", filter.Verdicts)
		}
		if len(filter.EntityTypes) > 0 {
			q = q.Where("entity_type IN ?", filter.EntityTypes)
		}
		if err := q.Order("scan_id, file_id, seq").Find(&matches).Error; err != nil {
			return err
		}
		return fq.Find(&files).Error
	})
	if err != nil {
		return nil, model.StoreError(model.CodeTxFailed, err)
	}

	paths := make(map[string]string, len(files))
	for _, f := range files {
		p, err := s.seal.openString(tableFiles, f.ID, "path", f.Path)
		if err != nil {
			return nil, model.StoreError(model.CodeKeyMismatch, err)
		}
		paths[f.ID] = p
	}

	refs := make([]MatchRef, 0, len(matches))
	for _, row := range matches {
		m, err := s.matchFromRow(row)
		if err != nil {
			return nil, model.StoreError(model.CodeKeyMismatch, err)
		}
		refs = append(refs, MatchRef{ScanID: row.ScanID, FileID: row.FileID, FilePath: paths[row.FileID], Match: m})
	}
	return refs, nil
}

// LedgerAppend records a committed verdict outside the database. It returns
// an undo that removes the record again if the database commit fails.
type LedgerAppend func(ref MatchRef) (undo func() error, err error)

// CommitVerdict sets the verdict of a PENDING match and appends the matching
// ledger record. Either both persist or neither does. The label of the
// file is recomputed in the same transaction.
func (s *Store) CommitVerdict(ctx context.Context, matchID string, verdict model.Verdict, actor string, ledger LedgerAppend) (MatchRef, error) {
	ref, err := s.commitVerdict(ctx, matchID, verdict, actor, ledger)
	return ref, s.record(model.AuditReviewVerdict, actor, ref.ScanID, boolCount(err == nil), err)
}

func boolCount(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

var (
	errNotPending = errors.New("match is not pending")
	errLedger     = errors.New("ledger append failed")
)

func (s *Store) commitVerdict(ctx context.Context, matchID string, verdict model.Verdict, actor string, ledger LedgerAppend) (MatchRef, error) {
	verdict = verdict.Normalize()
	if !verdict.Valid() || verdict == model.VerdictPending {
		return MatchRef{}, model.Errorf(model.KindReviewTransaction, model.CodeInvalid, "invalid verdict %q", verdict)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		ref  MatchRef
		undo func() error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row matchRow
		if err := tx.Where("id = ?", matchID).Take(&row).Error; err != nil {
			return err
		}
		ref.ScanID = row.ScanID
		if row.Verdict != string(model.VerdictPending) {
			return errNotPending
		}
		var file fileRow
		if err := tx.Where("id = ?", row.FileID).Take(&file).Error; err != nil {
			return err
		}

		res := tx.Model(&matchRow{}).
			Where("id = ? AND verdict = ?", matchID, model.VerdictPending).
			Updates(map[string]any{"verdict": string(verdict), "reviewed_by": actor})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errNotPending
		}
		if err := s.refreshLabel(tx, row.FileID); err != nil {
			return err
		}

		row.Verdict, row.ReviewedBy = string(verdict), actor
		m, err := s.matchFromRow(row)
		if err != nil {
			return err
		}
		path, err := s.seal.openString(tableFiles, file.ID, "path", file.Path)
		if err != nil {
			return err
		}
		ref = MatchRef{ScanID: row.ScanID, FileID: row.FileID, FilePath: path, Match: m}

		if ledger != nil {
			if undo, err = ledger(ref); err != nil {
				return fmt.Errorf("%w: %w", errLedger, err)
			}
		}
		return s.inject("verdict:commit")
	})
	if err == nil {
		return ref, nil
	}

	if undo != nil {
		if uerr := undo(); uerr != nil {
			log.Error().Err(uerr).Str("match", matchID).Msg("Failed rolling back feedback ledger")
		}
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ref, model.Errorf(model.KindReviewTransaction, model.CodeNotFound, "match %s not found", matchID)
	case errors.Is(err, errNotPending):
		return ref, model.ReviewTransactionError(model.CodeNotPending, err)
	case errors.Is(err, errLedger):
		return ref, model.ReviewTransactionError(model.CodeLedgerFailed, err)
	}
	return ref, model.ReviewTransactionError(model.CodeCommitFailed, err)
}

// refreshLabel recomputes the stored recommendation of a file from the
// current verdicts of its matches.
func (s *Store) refreshLabel(tx *gorm.DB, fileID string) error {
	var rows []matchRow
	if err := tx.Select("entity_type", "verdict").Where("file_id = ?", fileID).Find(&rows).Error; err != nil {
		return err
	}
	matches := make([]model.ResolvedMatch, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, model.ResolvedMatch{EntityType: model.EntityType(r.EntityType), Verdict: model.Verdict(r.Verdict)})
	}
	return tx.Model(&fileRow{}).Where("id = ?", fileID).Update("label", string(s.labels.Recommend(matches))).Error
}

// Purge removes a scan and all of its descendants in one transaction. The
// audit entry is written after the removal committed.
func (s *Store) Purge(ctx context.Context, scanID string) (int, error) {
	n, err := s.purge(ctx, scanID)
	return n, s.record(model.AuditScanPurge, "", scanID, n, err)
}

func (s *Store) purge(ctx context.Context, scanID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scan scanRow
		if err := tx.Where("id = ?", scanID).Take(&scan).Error; err != nil {
			return err
		}
		res := tx.Where("scan_id = ?", scanID).Delete(&matchRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += int(res.RowsAffected)
		if err := s.inject("purge:matches"); err != nil {
			return err
		}
		res = tx.Where("scan_id = ?", scanID).Delete(&fileRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += int(res.RowsAffected)
		if err := s.inject("purge:files"); err != nil {
			return err
		}
		if err := tx.Where("id = ?", scanID).Delete(&scanRow{}).Error; err != nil {
			return err
		}
		removed++
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, model.Errorf(model.KindStore, model.CodeNotFound, "scan %s not found", scanID)
	}
	if err != nil {
		return 0, model.StoreError(model.CodeTxFailed, err)
	}
	return removed, nil
}

// Stats counts stored matches by entity type and verdict.
type Stats struct {
	Scans     int                      `json:"scans"`
	Files     int                      `json:"files"`
	Matches   int                      `json:"matches"`
	TestData  int                      `json:"test_data"`
	ByEntity  map[model.EntityType]int `json:"by_entity"`
	ByVerdict map[model.Verdict]int    `json:"by_verdict"`
}

type groupRow struct {
	Value string
	N     int
}

// Stats aggregates over scanID, or over the whole store when it is empty.
func (s *Store) Stats(ctx context.Context, scanID string) (Stats, error) {
	st, err := s.stats(ctx, scanID)
	return st, s.record(model.AuditStats, "", scanID, st.Matches, err)
}

func (s *Store) stats(ctx context.Context, scanID string) (Stats, error) {
	st := Stats{ByEntity: map[model.EntityType]int{}, ByVerdict: map[model.Verdict]int{}}
	var byEntity, byVerdict []groupRow
	var scans, files, tests int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := func(q *gorm.DB, col string) *gorm.DB {
			if scanID != "" {
				return q.Where(col+" = ?", scanID)
			}
			return q
		}
		if err := scope(tx.Model(&scanRow{}), "id").Count(&scans).Error; err != nil {
			return err
		}
		if err := scope(tx.Model(&fileRow{}), "scan_id").Count(&files).Error; err != nil {
			return err
		}
		if err := scope(tx.Model(&matchRow{}), "scan_id").Where("is_test = ?", true).Count(&tests).Error; err != nil {
			return err
		}
		if err := scope(tx.Model(&matchRow{}), "scan_id").Select("entity_type as value, count(*) as n").Group("entity_type").Scan(&byEntity).Error; err != nil {
			return err
		}
		return scope(tx.Model(&matchRow{}), "scan_id").Select("verdict as value, count(*) as n").Group("verdict").Scan(&byVerdict).Error
	})
	if err != nil {
		return st, model.StoreError(model.CodeTxFailed, err)
	}
	if scanID != "" && scans == 0 {
		return st, model.Errorf(model.KindStore, model.CodeNotFound, "scan %s not found", scanID)
	}
	st.Scans, st.Files, st.TestData = int(scans), int(files), int(tests)
	for _, r := range byEntity {
		st.ByEntity[model.EntityType(r.Value)] = r.N
		st.Matches += r.N
	}
	for _, r := range byVerdict {
		st.ByVerdict[model.Verdict(r.Value)] = r.N
	}
	return st, nil
}

func (s *Store) toRows(rec *model.ScanRecord) (scanRow, []fileRow, []matchRow, error) {
	src, err := s.seal.sealString(tableScans, rec.ScanID, "source_path", rec.SourcePath)
	if err != nil {
		return scanRow{}, nil, nil, err
	}
	scan := scanRow{
		ID:          rec.ScanID,
		StartedAt:   rec.StartedAt.UTC(),
		CompletedAt: rec.CompletedAt.UTC(),
		Cancelled:   rec.Cancelled,
		SourcePath:  src,
	}

	files := make([]fileRow, 0, len(rec.FileResults))
	var matches []matchRow
	for i, f := range rec.FileResults {
		row := fileRow{
			ID:             uuid.NewString(),
			ScanID:         rec.ScanID,
			Seq:            i,
			Label:          string(f.LabelRecommendation),
			SizeBytes:      f.SizeBytes,
			ModifiedAt:     f.ModifiedAt.UTC(),
			ScanDurationNS: int64(f.ScanDuration),
		}
		if row.Path, err = s.seal.sealString(tableFiles, row.ID, "path", f.Path); err != nil {
			return scanRow{}, nil, nil, err
		}
		if f.Error != nil {
			row.ErrorKind, row.ErrorCode = string(f.Error.Kind), f.Error.Code
			if row.ErrorDetail, err = s.seal.sealString(tableFiles, row.ID, "error_detail", f.Error.Detail); err != nil {
				return scanRow{}, nil, nil, err
			}
		}
		files = append(files, row)

		for j, m := range f.Matches {
			mr, err := s.matchToRow(rec.ScanID, row.ID, j, m)
			if err != nil {
				return scanRow{}, nil, nil, err
			}
			matches = append(matches, mr)
		}
	}
	return scan, files, matches, nil
}

func (s *Store) matchToRow(scanID, fileID string, seq int, m model.ResolvedMatch) (matchRow, error) {
	row := matchRow{
		ID:           m.ID,
		ScanID:       scanID,
		FileID:       fileID,
		Seq:          seq,
		EntityType:   string(m.EntityType),
		Confidence:   m.FinalConfidence,
		Verdict:      string(m.Verdict.Normalize()),
		IsTest:       m.IsTestData,
		SpanStart:    m.Span.Start,
		SpanEnd:      m.Span.End,
		Line:         m.Span.Line,
		ModelVersion: m.ModelVersion,
		ReviewedBy:   m.ReviewedBy,
	}
	sources, err := json.Marshal(m.ContributingSources)
	if err != nil {
		return row, err
	}
	if row.RedactedValue, err = s.seal.sealString(tableMatches, m.ID, "redacted_value", m.RedactedValue); err != nil {
		return row, err
	}
	if row.Context, err = s.seal.sealString(tableMatches, m.ID, "context", m.Context); err != nil {
		return row, err
	}
	if row.Sources, err = s.seal.seal(tableMatches, m.ID, "sources", sources); err != nil {
		return row, err
	}
	return row, nil
}

func (s *Store) matchFromRow(row matchRow) (model.ResolvedMatch, error) {
	m := model.ResolvedMatch{
		ID:              row.ID,
		EntityType:      model.EntityType(row.EntityType),
		FinalConfidence: row.Confidence,
		IsTestData:      row.IsTest,
		Verdict:         model.Verdict(row.Verdict),
		ModelVersion:    row.ModelVersion,
		Span:            model.Span{Start: row.SpanStart, End: row.SpanEnd, Line: row.Line},
		ReviewedBy:      row.ReviewedBy,
	}
	var err error
	if m.RedactedValue, err = s.seal.openString(tableMatches, row.ID, "redacted_value", row.RedactedValue); err != nil {
		return m, err
	}
	if m.Context, err = s.seal.openString(tableMatches, row.ID, "context", row.Context); err != nil {
		return m, err
	}
	sources, err := s.seal.open(tableMatches, row.ID, "sources", row.Sources)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(sources, &m.ContributingSources); err != nil {
		return m, err
	}
	return m, nil
}

func (s *Store) fromRows(scan scanRow, files []fileRow, matches []matchRow) (model.ScanRecord, error) {
	src, err := s.seal.openString(tableScans, scan.ID, "source_path", scan.SourcePath)
	if err != nil {
		return model.ScanRecord{}, err
	}
	rec := model.ScanRecord{
		ScanID:      scan.ID,
		StartedAt:   scan.StartedAt,
		CompletedAt: scan.CompletedAt,
		SourcePath:  src,
		Cancelled:   scan.Cancelled,
		FileResults: make([]model.FileResult, 0, len(files)),
	}

	byFile := make(map[string][]matchRow, len(files))
	for _, m := range matches {
		byFile[m.FileID] = append(byFile[m.FileID], m)
	}

	for _, f := range files {
		path, err := s.seal.openString(tableFiles, f.ID, "path", f.Path)
		if err != nil {
			return model.ScanRecord{}, err
		}
		fr := model.FileResult{
			Path:                path,
			LabelRecommendation: model.Label(f.Label),
			SizeBytes:           f.SizeBytes,
			ModifiedAt:          f.ModifiedAt,
			ScanDuration:        time.Duration(f.ScanDurationNS),
			Matches:             []model.ResolvedMatch{},
		}
		if f.ErrorKind != "" {
			detail, err := s.seal.openString(tableFiles, f.ID, "error_detail", f.ErrorDetail)
			if err != nil {
				return model.ScanRecord{}, err
			}
			fr.Error = &model.Error{Kind: model.ErrorKind(f.ErrorKind), Code: f.ErrorCode, Detail: detail}
		}
		for _, mr := range byFile[f.ID] {
			m, err := s.matchFromRow(mr)
			if err != nil {
				return model.ScanRecord{}, err
			}
			fr.Matches = append(fr.Matches, m)
		}
		rec.FileResults = append(rec.FileResults, fr)
	}
	return rec, nil
}
