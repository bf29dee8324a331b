package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// sheet writes a single-sheet workbook with a bold header row.
type sheet struct {
	f    *excelize.File
	name string
	row  int
}

func newSheet(name string, headers []string) (*sheet, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(name)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	s := &sheet{f: f, name: name, row: 1}
	s.append(stringsToAny(headers)...)
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(name, 1, 1, style)
	}
	return s, nil
}

func (s *sheet) append(values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, s.row)
		_ = s.f.SetCellValue(s.name, cell, v)
	}
	s.row++
}

func (s *sheet) width(from, to string, w float64) {
	_ = s.f.SetColWidth(s.name, from, to, w)
}

func (s *sheet) bytes() ([]byte, error) {
	defer func() { _ = s.f.Close() }()
	buf, err := s.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
