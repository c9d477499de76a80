package evidence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/waitlens/internal/csvscan"
	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/internal/timeparse"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/interval"
)

// Batch is the batch an instance was executed in, with the span during which
// the batch was accumulating work.
type Batch struct {
	ID        string            `json:"id" yaml:"id"`
	Formation interval.Interval `json:"formation" yaml:"formation"`
}

// BatchDetector maps activity instance IDs to the batch they belong to.
// Instances without a batch are absent from the result.
type BatchDetector interface {
	Detect(instances []model.ActivityInstance) map[string]Batch
}

// NoBatches reports no batch membership.
type NoBatches struct{}

// Detect implements BatchDetector.
func (NoBatches) Detect([]model.ActivityInstance) map[string]Batch {
	return nil
}

// Membership is one row of externally supplied batch evidence. It names
// either an instance or a (case, activity) pair. An instance given with its
// case is a record ID from the log; given alone it is a qualified instance
// ID such as "c1/e7" or "c1#2".
type Membership struct {
	BatchID        string    `yaml:"batch_id"`
	InstanceID     string    `yaml:"instance,omitempty"`
	CaseID         string    `yaml:"case,omitempty"`
	Activity       string    `yaml:"activity,omitempty"`
	FormationStart time.Time `yaml:"formation_start"`
	FormationEnd   time.Time `yaml:"formation_end"`
}

type caseActivity struct {
	caseID   string
	activity string
}

// StaticBatches replays batch memberships loaded from a file.
type StaticBatches struct {
	byInstance map[string]Batch
	byCase     map[caseActivity]Batch
}

// NewStaticBatches indexes the given memberships.
func NewStaticBatches(rows []Membership) (*StaticBatches, error) {
	sb := &StaticBatches{
		byInstance: make(map[string]Batch),
		byCase:     make(map[caseActivity]Batch),
	}
	for i, row := range rows {
		if row.BatchID == "" {
			return nil, fmt.Errorf("batch row %d: missing batch_id", i+1)
		}
		b := Batch{ID: row.BatchID, Formation: interval.New(row.FormationStart, row.FormationEnd)}
		switch {
		case row.InstanceID != "" && row.CaseID != "":
			sb.byInstance[model.InstanceID(row.CaseID, row.InstanceID)] = b
		case row.InstanceID != "":
			sb.byInstance[row.InstanceID] = b
		case row.CaseID != "" && row.Activity != "":
			sb.byCase[caseActivity{row.CaseID, row.Activity}] = b
		default:
			return nil, fmt.Errorf("batch row %d: needs instance or case and activity", i+1)
		}
	}
	return sb, nil
}

// Len returns the number of memberships.
func (s *StaticBatches) Len() int {
	return len(s.byInstance) + len(s.byCase)
}

// Detect implements BatchDetector.
func (s *StaticBatches) Detect(instances []model.ActivityInstance) map[string]Batch {
	out := make(map[string]Batch)
	for i := range instances {
		inst := &instances[i]
		if b, ok := s.byInstance[inst.ID]; ok {
			out[inst.ID] = b
			continue
		}
		if b, ok := s.byCase[caseActivity{inst.CaseID, inst.Activity}]; ok {
			out[inst.ID] = b
		}
	}
	return out
}

// LoadBatchFile reads batch memberships from a .csv, .yaml or .yml file.
func LoadBatchFile(path string) (*StaticBatches, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.CodeEvidenceLoad, "open batch file").WithContext("path", path)
	}
	defer f.Close()

	var rows []Membership
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&rows)
		if err == io.EOF {
			err = nil
		}
	default:
		rows, err = ReadBatchCSV(f)
	}
	if err != nil {
		return nil, werrors.Wrap(err, werrors.CodeEvidenceLoad, "parse batch file").WithContext("path", path)
	}

	sb, err := NewStaticBatches(rows)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.CodeEvidenceLoad, "index batch file").WithContext("path", path)
	}
	return sb, nil
}

// ReadBatchCSV parses rows with the columns batch_id, instance, case,
// activity, formation_start and formation_end. Either instance or both case
// and activity must be present.
func ReadBatchCSV(r io.Reader) ([]Membership, error) {
	rd, err := csvscan.NewReader(r, ',')
	if err != nil {
		if err == csvscan.ErrEmpty {
			return nil, nil
		}
		return nil, err
	}
	idx := rd.Index()
	for _, col := range []string{"batch_id", "formation_start", "formation_end"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Membership
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		from, err := timeparse.Parse(get(rec, "formation_start"))
		if err != nil {
			return nil, fmt.Errorf("line %d: formation_start: %w", rd.Line(), err)
		}
		to, err := timeparse.Parse(get(rec, "formation_end"))
		if err != nil {
			return nil, fmt.Errorf("line %d: formation_end: %w", rd.Line(), err)
		}
		rows = append(rows, Membership{
			BatchID:        get(rec, "batch_id"),
			InstanceID:     get(rec, "instance"),
			CaseID:         get(rec, "case"),
			Activity:       get(rec, "activity"),
			FormationStart: from,
			FormationEnd:   to,
		})
	}
	return rows, nil
}

// SimultaneousStartDetector treats instances of the same activity started by
// the same resource at the same instant as one batch. The formation window
// runs from the first member's enabled time to the last member's. Instances
// without a resource are never batched.
type SimultaneousStartDetector struct {
	// MinSize is the smallest group counted as a batch; values below 2 mean 2.
	MinSize int
}

type startKey struct {
	activity string
	resource string
	start    int64
}

// Detect implements BatchDetector.
func (d SimultaneousStartDetector) Detect(instances []model.ActivityInstance) map[string]Batch {
	minSize := d.MinSize
	if minSize < 2 {
		minSize = 2
	}

	groups := make(map[startKey][]int)
	for i := range instances {
		inst := &instances[i]
		if inst.Resource == "" {
			continue
		}
		k := startKey{inst.Activity, inst.Resource, inst.Start.UnixNano()}
		groups[k] = append(groups[k], i)
	}

	out := make(map[string]Batch)
	for k, members := range groups {
		if len(members) < minSize {
			continue
		}
		first := instances[members[0]].Enabled
		last := first
		for _, m := range members[1:] {
			en := instances[m].Enabled
			if en.Before(first) {
				first = en
			}
			if en.After(last) {
				last = en
			}
		}
		b := Batch{
			ID:        fmt.Sprintf("%s@%s@%d", k.activity, k.resource, k.start),
			Formation: interval.New(first, last),
		}
		for _, m := range members {
			out[instances[m].ID] = b
		}
	}
	return out
}
