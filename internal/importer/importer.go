// Package importer loads words, learners and analysis memberships from an
// .xlsx workbook.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

const componentName = "importer"

// Column headers recognised in the first row. Matching ignores case and
// surrounding spaces.
const (
	ColumnWordID     = "word_id"
	ColumnOwnerID    = "owner_id"
	ColumnText       = "text"
	ColumnStatus     = "status"
	ColumnAnalysisID = "analysis_id"
)

var requiredColumns = []string{ColumnWordID, ColumnOwnerID, ColumnStatus}

// Options selects what to read.
type Options struct {
	// SheetName defaults to the first sheet of the workbook.
	SheetName string
	// DryRun validates every row without writing.
	DryRun bool
}

// RowError describes a rejected row. Row is the 1-based sheet row.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Result summarises an import.
type Result struct {
	Sheet       string     `json:"sheet"`
	Rows        int        `json:"rows"`
	Imported    int        `json:"imported"`
	Memberships int        `json:"memberships"`
	Errors      []RowError `json:"errors,omitempty"`
}

// Importer writes workbook rows to the record store.
type Importer struct {
	tx       *datastore.Transactor
	words    repository.WordRepository
	analyses repository.AnalysisRepository
	learners repository.LearnerRepository
	log      logger.Logger
}

// New creates an importer.
func New(tx *datastore.Transactor, words repository.WordRepository, analyses repository.AnalysisRepository,
	learners repository.LearnerRepository, log logger.Logger) *Importer {
	return &Importer{
		tx:       tx,
		words:    words,
		analyses: analyses,
		learners: learners,
		log:      log.Module(componentName),
	}
}

type row struct {
	number     int
	word       entities.Word
	analysisID string
}

// ImportWorkbook reads path and upserts one word per data row. Status values are
// stored verbatim so legacy tags can be migrated later. Invalid rows are
// collected in Result.Errors and do not stop the import; an unreadable file or a
// missing required header does.
func (im *Importer) ImportWorkbook(ctx context.Context, path string, opts Options) (Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Result{}, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			im.log.Warn("failed to close workbook", logger.String("path", path), logger.Error(cerr))
		}
	}()

	sheet := opts.SheetName
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Result{}, parseError(errors.NewStd("workbook has no sheets"), path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Result{}, parseError(err, path)
	}
	result := Result{Sheet: sheet}
	if len(rows) == 0 {
		return result, nil
	}

	columns, err := headerIndex(rows[0])
	if err != nil {
		return result, parseError(err, path)
	}

	for i, cells := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return result, errors.New(err).
				Component(componentName).
				Category(errors.CategoryCancellation).
				Build()
		}
		number := i + 2
		if blank(cells) {
			continue
		}
		result.Rows++

		parsed, msg := parseRow(number, cells, columns)
		if msg != "" {
			rowErr := RowError{Row: number, Message: msg}
			im.log.Debug("import row rejected", logger.String("reason", rowErr.String()))
			result.Errors = append(result.Errors, rowErr)
			continue
		}
		if opts.DryRun {
			result.Imported++
			continue
		}

		if err := im.writeRow(ctx, parsed); err != nil {
			if errors.IsCategory(err, errors.CategoryCancellation) {
				return result, err
			}
			im.log.Warn("import row failed", logger.Int("row", number), logger.Error(err))
			result.Errors = append(result.Errors, RowError{Row: number, Message: err.Error()})
			continue
		}
		result.Imported++
		if parsed.analysisID != "" {
			result.Memberships++
		}
	}

	im.log.Info("workbook imported",
		logger.String("path", path),
		logger.String("sheet", sheet),
		logger.Int("rows", result.Rows),
		logger.Int("imported", result.Imported),
		logger.Int("errors", len(result.Errors)))
	return result, nil
}

func (im *Importer) writeRow(ctx context.Context, r row) error {
	return im.tx.Do(ctx, "import_row", func(tx *gorm.DB) error {
		if err := im.learners.WithTx(tx).Ensure(ctx, r.word.OwnerID, ""); err != nil {
			return err
		}
		if err := im.words.WithTx(tx).Upsert(ctx, &r.word); err != nil {
			return err
		}
		if r.analysisID == "" {
			return nil
		}
		analyses := im.analyses.WithTx(tx)
		if err := analyses.Ensure(ctx, r.analysisID, r.word.OwnerID, r.analysisID); err != nil {
			return err
		}
		return analyses.AddMembers(ctx, r.analysisID, []string{r.word.ID})
	})
}

func headerIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := columns[key]; key != "" && !dup {
			columns[key] = i
		}
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Newf("missing required columns: %s", strings.Join(missing, ", ")).Build()
	}
	return columns, nil
}

func parseRow(number int, cells []string, columns map[string]int) (row, string) {
	cell := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	r := row{
		number: number,
		word: entities.Word{
			ID:      cell(ColumnWordID),
			OwnerID: cell(ColumnOwnerID),
			Text:    cell(ColumnText),
			Status:  entities.NormalizeStatus(cell(ColumnStatus)),
		},
		analysisID: cell(ColumnAnalysisID),
	}

	switch {
	case r.word.ID == "":
		return r, "word_id is empty"
	case r.word.OwnerID == "":
		return r, "owner_id is empty"
	case r.word.Status == "":
		return r, "status is empty"
	}
	if r.word.Status.IsNumeric() {
		if _, ok := r.word.Status.Level(); !ok {
			return r, fmt.Sprintf("status %q is outside %d..%d", r.word.Status, entities.MinStatus, entities.MaxStatus)
		}
	}
	return r, ""
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseError(err error, path string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryFileParsing).
		Context("path", path).
		Build()
}
