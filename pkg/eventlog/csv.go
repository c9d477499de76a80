package eventlog

import (
	"context"
	"io"

	"github.com/logflow/waitlens/internal/csvscan"
	"github.com/logflow/waitlens/internal/model"
)

// ReadCSV loads a delimited log. Rows that cannot be converted are counted
// in the report and skipped.
func ReadCSV(ctx context.Context, r io.Reader, cfg Config) (*model.Log, *LoadReport, error) {
	delim := cfg.Delimiter
	if delim == 0 {
		delim = ','
	}
	rd, err := csvscan.NewReader(r, delim)
	if err != nil {
		return nil, nil, err
	}
	b, err := newRowBuilder(cfg, rd.Header(), FormatCSV)
	if err != nil {
		return nil, nil, err
	}

	log := &model.Log{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, b.rep, err
		}
		cols, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, b.rep, err
		}
		if ev, ok := b.build(rd.Line(), cols); ok {
			log.Events = append(log.Events, ev)
		}
	}
	return log, b.rep, nil
}
