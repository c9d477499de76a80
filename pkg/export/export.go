// Package export writes run reports as JSON, Parquet and XLSX files and as a
// Parquet star schema for BI tools.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	werrors "github.com/logflow/waitlens/pkg/errors"
)

// Format is an output file format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
	FormatStar    Format = "star" // directory of Parquet fact and dimension tables
)

// ParseFormats parses a list of format names, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool)
	var out []Format
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatJSON, FormatParquet, FormatXLSX, FormatStar:
		default:
			return nil, werrors.InvalidConfig("output.formats", n)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Options controls Write.
type Options struct {
	Dir         string
	Formats     []Format
	Compression CompressionType
}

// Write writes the report in every requested format into opts.Dir, naming
// files after the run id; the star schema goes to a <run id>_star directory.
// It returns the paths written.
func Write(rep *RunReport, opts Options) ([]string, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, werrors.Wrap(err, werrors.CodeExport, "create output directory").WithContext("dir", opts.Dir)
	}

	var paths []string
	for _, f := range opts.Formats {
		if f == FormatStar {
			dir := filepath.Join(opts.Dir, rep.RunID+"_star")
			res, err := WriteStarSchema(rep, dir, opts.Compression)
			if err != nil {
				return paths, werrors.Wrap(err, werrors.CodeExport, "write star schema").WithContext("dir", dir)
			}
			paths = append(paths, res.Files()...)
			continue
		}
		path := filepath.Join(opts.Dir, fmt.Sprintf("%s.%s", rep.RunID, f))
		if err := writeFile(path, func(w io.Writer) error {
			switch f {
			case FormatJSON:
				return WriteJSON(w, rep)
			case FormatParquet:
				return WriteParquet(w, rep, opts.Compression)
			case FormatXLSX:
				return WriteXLSX(w, rep)
			}
			return fmt.Errorf("unknown format %q", f)
		}); err != nil {
			return paths, werrors.Wrap(err, werrors.CodeExport, "write report").WithContext("path", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	// The parquet writer closes its sink along with the footer.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
