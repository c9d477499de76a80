package eventlog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/waitlens/internal/model"
)

// ReadXLSX loads the first sheet of a workbook. Date cells are read raw and
// accepted either as text timestamps or as Excel serial numbers.
func ReadXLSX(ctx context.Context, r io.Reader, cfg Config) (*model.Log, *LoadReport, error) {
	var (
		xlFile *excelize.File
		err    error
	)
	if f, ok := r.(*os.File); ok {
		xlFile, err = excelize.OpenFile(f.Name())
	} else {
		xlFile, err = excelize.OpenReader(r)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer xlFile.Close()

	sheets := xlFile.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets found in xlsx file")
	}

	rows, err := xlFile.Rows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil, fmt.Errorf("xlsx file is empty")
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	b, err := newRowBuilder(cfg, header, FormatXLSX)
	if err != nil {
		return nil, nil, err
	}
	b.excelSerial = true

	log := &model.Log{}
	rowNum := 1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, b.rep, err
		}
		rowNum++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			b.rep.Rows++
			b.rep.reject(rowNum, err.Error())
			continue
		}
		if len(cols) == 0 {
			continue
		}
		if ev, ok := b.build(rowNum, cols); ok {
			log.Events = append(log.Events, ev)
		}
	}
	if err := rows.Error(); err != nil {
		return nil, b.rep, err
	}
	return log, b.rep, nil
}
