// Package csvscan reads delimited text with a small finite state machine that
// handles quoted fields, embedded delimiters and escaped quotes.
package csvscan

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrEmpty is returned when the input has no header line.
var ErrEmpty = errors.New("csvscan: empty input")

type state uint8

const (
	stateFieldStart state = iota
	stateInField
	stateInQuotedField
	stateQuoteInQuotedField
)

// ScanLine splits one line into fields. Surrounding quotes are removed and
// doubled quotes inside quoted fields are unescaped.
func ScanLine(line string, delimiter byte) []string {
	if len(line) == 0 {
		return nil
	}

	fields := make([]string, 0, 16)
	st := stateFieldStart
	fieldStart := 0
	fieldEnd := 0
	needsUnescape := false

	for i := 0; i <= len(line); i++ {
		var c byte
		if i < len(line) {
			c = line[i]
		}

		switch st {
		case stateFieldStart:
			if i >= len(line) {
				// Empty final field
				fields = append(fields, "")
				continue
			}
			switch c {
			case '"':
				fieldStart = i + 1
				st = stateInQuotedField
			case delimiter:
				fields = append(fields, "")
			default:
				fieldStart = i
				st = stateInField
			}

		case stateInField:
			if i >= len(line) || c == delimiter {
				fields = append(fields, line[fieldStart:i])
				st = stateFieldStart
			}

		case stateInQuotedField:
			if i >= len(line) {
				// Unterminated quoted field - take what we have
				fields = append(fields, line[fieldStart:i])
				continue
			}
			if c == '"' {
				fieldEnd = i
				st = stateQuoteInQuotedField
			}

		case stateQuoteInQuotedField:
			switch {
			case i >= len(line) || c == delimiter:
				field := line[fieldStart:fieldEnd]
				if needsUnescape {
					field = strings.ReplaceAll(field, `""`, `"`)
					needsUnescape = false
				}
				fields = append(fields, field)
				st = stateFieldStart
			case c == '"':
				// Escaped quote ("")
				needsUnescape = true
				st = stateInQuotedField
			default:
				// Character after closing quote, be lenient
				st = stateInQuotedField
			}
		}
	}

	return fields
}

// Reader reads a header line followed by records.
type Reader struct {
	r         *bufio.Reader
	delimiter byte
	header    []string
	line      int
}

// NewReader creates a reader and consumes the header line.
func NewReader(r io.Reader, delimiter byte) (*Reader, error) {
	rd := &Reader{r: bufio.NewReaderSize(r, 64*1024), delimiter: delimiter}
	for {
		line, err := rd.readLine()
		if err == io.EOF && line == "" {
			return nil, ErrEmpty
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		if line == "" {
			continue
		}
		rd.header = ScanLine(strings.TrimPrefix(line, "\ufeff"), delimiter)
		for i := range rd.header {
			rd.header[i] = strings.TrimSpace(rd.header[i])
		}
		return rd, nil
	}
}

// Header returns the column names.
func (r *Reader) Header() []string {
	return r.header
}

// Line returns the 1-based line number of the last record read.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next non-empty record, or io.EOF.
func (r *Reader) Next() ([]string, error) {
	for {
		line, err := r.readLine()
		if line == "" {
			if err != nil {
				return nil, err
			}
			continue
		}
		return ScanLine(line, r.delimiter), nil
	}
}

// Index maps column names to positions.
func (r *Reader) Index() map[string]int {
	m := make(map[string]int, len(r.header))
	for i, col := range r.header {
		m[col] = i
	}
	return m
}

func (r *Reader) readLine() (string, error) {
	line, err := r.r.ReadString('\n')
	if len(line) > 0 {
		r.line++
	}
	line = strings.TrimRight(line, "\r\n")
	return line, err
}
