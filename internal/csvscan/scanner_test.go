package csvscan

import (
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestScanLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "", "c"}},
		{"a,b,", []string{"a", "b", ""}},
		{`"x,y",z`, []string{"x,y", "z"}},
		{`"say ""hi""",2`, []string{`say "hi"`, "2"}},
		{`"open`, []string{"open"}},
	}

	for _, tt := range tests {
		got := ScanLine(tt.line, ',')
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ScanLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestReader(t *testing.T) {
	input := "\ufeffcase;activity\r\n\r\nc1;A\nc2;\"B;C\"\n"
	r, err := NewReader(strings.NewReader(input), ';')
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !reflect.DeepEqual(r.Header(), []string{"case", "activity"}) {
		t.Errorf("Header = %q", r.Header())
	}

	var rows [][]string
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		rows = append(rows, row)
	}

	want := [][]string{{"c1", "A"}, {"c2", "B;C"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %q, want %q", rows, want)
	}
}

func TestReader_Empty(t *testing.T) {
	if _, err := NewReader(strings.NewReader(""), ','); err != ErrEmpty {
		t.Errorf("NewReader(empty) error = %v, want ErrEmpty", err)
	}
}
