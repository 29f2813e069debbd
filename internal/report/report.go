// Package report renders a fixed-width file as an xlsx workbook: one sheet
// per record code, a bold header row of field labels and typed cells with
// number formats that match each field type.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"schevo/internal/datasource"
	"schevo/internal/fixedwidth"
)

const (
	// DefaultMaxSheetRows is the number of data rows written to one sheet
	// before a record code rolls over to a new sheet.
	DefaultMaxSheetRows = 1_000_000

	fontFamily   = "Aptos Narrow"
	defaultSheet = "Sheet1"

	ctxCheckEvery = 4096
)

// numFmts maps value kinds to Excel number formats.
var numFmts = map[fixedwidth.Kind]string{
	fixedwidth.KindString:   "@",
	fixedwidth.KindInteger:  "#,##0",
	fixedwidth.KindDecimal:  "#,##0.00",
	fixedwidth.KindDate:     "dd/mm/yyyy",
	fixedwidth.KindTime:     "h:mm:ss;@",
	fixedwidth.KindDatetime: "dd/mm/yyyy h:mm:ss;@",
}

// Options tunes WriteWorkbook.
type Options struct {
	// MaxSheetRows caps data rows per sheet; <= 0 means DefaultMaxSheetRows.
	MaxSheetRows int
}

// Stats describes a written workbook.
type Stats struct {
	Rows       int64
	Unroutable int64
	Sheets     []string
}

// OutputPath returns path with its extension replaced by ".xlsx".
func OutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
}

// sheet tracks the current sheet of one record code.
type sheet struct {
	code   string
	layout *fixedwidth.Layout
	part   int // 1-based; names gain a _NN suffix from the second part on
	name   string
	rows   int // data rows written to the current part
}

type writer struct {
	f       *excelize.File
	maxRows int

	header int
	styles map[fixedwidth.Kind]int
	sheets map[string]*sheet
	order  []string
}

// WriteWorkbook decodes every routable row of src and writes the workbook
// to out on fsys. Rows whose record code has no layout are skipped. Nothing
// is written when a row fails to decode.
func WriteWorkbook(ctx context.Context, st *fixedwidth.Stream, src datasource.Source, fsys afero.Fs, out string, opts Options) (Stats, error) {
	var stats Stats

	in, err := src.Open(ctx)
	if err != nil {
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	defer in.Close()

	w, err := newWriter(opts)
	if err != nil {
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	defer w.f.Close()

	br := bufio.NewReader(st.NewReader(in))
	var row int64
	for {
		line, rerr := br.ReadString('\n')
		if len(line) > 0 {
			row++
			if row%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return stats, err
				}
			}
			l, code, ok := st.Classify(line)
			if !ok {
				stats.Unroutable++
			} else {
				rec, err := l.Decode(line)
				if err != nil {
					return stats, fmt.Errorf("report %s: row %d: %w", out, row, err)
				}
				if err := w.append(code, l, rec); err != nil {
					return stats, fmt.Errorf("report %s: row %d: %w", out, row, err)
				}
				stats.Rows++
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return stats, fmt.Errorf("report %s: %w", out, rerr)
		}
	}

	if err := w.finish(); err != nil {
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	stats.Sheets = w.f.GetSheetList()

	dst, err := fsys.Create(out)
	if err != nil {
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	if err := w.f.Write(dst); err != nil {
		dst.Close()
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	if err := dst.Close(); err != nil {
		return stats, fmt.Errorf("report %s: %w", out, err)
	}
	return stats, nil
}

func newWriter(opts Options) (*writer, error) {
	w := &writer{
		f:       excelize.NewFile(),
		maxRows: opts.MaxSheetRows,
		styles:  map[fixedwidth.Kind]int{},
		sheets:  map[string]*sheet{},
	}
	if w.maxRows <= 0 {
		w.maxRows = DefaultMaxSheetRows
	}

	text := numFmts[fixedwidth.KindString]
	id, err := w.f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Family: fontFamily, Bold: true},
		CustomNumFmt: &text,
	})
	if err != nil {
		w.f.Close()
		return nil, err
	}
	w.header = id

	for kind, format := range numFmts {
		id, err := w.f.NewStyle(&excelize.Style{
			Font:         &excelize.Font{Family: fontFamily},
			CustomNumFmt: &format,
		})
		if err != nil {
			w.f.Close()
			return nil, err
		}
		w.styles[kind] = id
	}
	id, err = w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Family: fontFamily}})
	if err != nil {
		w.f.Close()
		return nil, err
	}
	w.styles[fixedwidth.KindNull] = id
	return w, nil
}

// HeaderLabel renders a field label for the header row.
func HeaderLabel(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "_", " ")
}

func (w *writer) append(code string, l *fixedwidth.Layout, rec fixedwidth.Record) error {
	sh, ok := w.sheets[code]
	if !ok {
		sh = &sheet{code: code, layout: l, part: 1, name: code}
		if err := w.open(sh, true); err != nil {
			return err
		}
		w.sheets[code] = sh
		w.order = append(w.order, code)
	}
	if sh.rows >= w.maxRows {
		if err := w.rollover(sh); err != nil {
			return err
		}
	}

	rowNum := sh.rows + 2
	for i, c := range rec.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(sh.name, cell, cellValue(c.Value)); err != nil {
			return err
		}
		if err := w.f.SetCellStyle(sh.name, cell, cell, w.styles[c.Value.Kind]); err != nil {
			return err
		}
	}
	sh.rows++
	return nil
}

// rollover closes the current part of sh and starts the next one. The first
// part is renamed <code>_01 when the second one is created.
func (w *writer) rollover(sh *sheet) error {
	if err := w.decorate(sh); err != nil {
		return err
	}
	if sh.part == 1 {
		renamed := partName(sh.code, 1)
		if err := w.f.SetSheetName(sh.name, renamed); err != nil {
			return err
		}
	}
	sh.part++
	sh.name = partName(sh.code, sh.part)
	sh.rows = 0
	return w.open(sh, false)
}

func partName(code string, part int) string {
	return fmt.Sprintf("%s_%02d", code, part)
}

// open creates the sheet of sh and writes its header row. The workbook's
// initial sheet is reused for the first sheet created.
func (w *writer) open(sh *sheet, first bool) error {
	if first && len(w.order) == 0 {
		if err := w.f.SetSheetName(defaultSheet, sh.name); err != nil {
			return err
		}
	} else if _, err := w.f.NewSheet(sh.name); err != nil {
		return err
	}

	header := make([]any, len(sh.layout.Fields))
	for i, f := range sh.layout.Fields {
		header[i] = HeaderLabel(f.Spec.Name)
	}
	if err := w.f.SetSheetRow(sh.name, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(max(1, len(header)), 1)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(sh.name, "A1", last, w.header)
}

// decorate freezes the header row and adds an autofilter over the data.
func (w *writer) decorate(sh *sheet) error {
	if err := w.f.SetPanes(sh.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(max(1, len(sh.layout.Fields)), sh.rows+1)
	if err != nil {
		return err
	}
	return w.f.AutoFilter(sh.name, "A1:"+last, nil)
}

func (w *writer) finish() error {
	for _, code := range w.order {
		if err := w.decorate(w.sheets[code]); err != nil {
			return err
		}
	}
	return nil
}

// cellValue converts a decoded value into something excelize stores with
// the right cell type. Times of day become fractions of a day.
func cellValue(v fixedwidth.Value) any {
	switch v.Kind {
	case fixedwidth.KindString:
		return v.Str
	case fixedwidth.KindInteger:
		return v.Int
	case fixedwidth.KindDecimal:
		return v.Float()
	case fixedwidth.KindDate, fixedwidth.KindDatetime:
		return v.Time
	case fixedwidth.KindTime:
		t := v.Time
		d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
		return d.Seconds() / (24 * 60 * 60)
	default:
		return nil
	}
}
