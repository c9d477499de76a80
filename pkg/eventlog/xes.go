package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"html"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/waitlens/internal/model"
)

// XES attribute keys
var (
	xesConceptName = []byte("concept:name")
	xesTimeStamp   = []byte("time:timestamp")
	xesOrgResource = []byte("org:resource")
	xesLifecycleTr = []byte("lifecycle:transition")
	xesIdentityID  = []byte("identity:id")
)

// XML element names
var (
	xmlLog    = []byte("log")
	xmlTrace  = []byte("trace")
	xmlEvent  = []byte("event")
	xmlString = []byte("string")
	xmlDate   = []byte("date")
	xmlInt    = []byte("int")
	xmlFloat  = []byte("float")
	xmlBool   = []byte("boolean")
	xmlID     = []byte("id")
)

// CaseAttributePrefix prefixes trace-level attributes copied onto events.
const CaseAttributePrefix = "case:"

type xesState uint8

const (
	stateInit xesState = iota
	stateLog
	stateTrace
	stateEvent
)

// xesEvent is one <event> element before lifecycle pairing.
type xesEvent struct {
	line       int
	id         string
	activity   string
	resource   string
	lifecycle  string
	ts         time.Time
	tsErr      bool
	attributes model.Attributes
}

// ReadXES streams an XES document. start and complete lifecycle events of
// the same activity are paired first-in first-out within a trace; a complete
// without a start yields an event with no start timestamp.
func ReadXES(ctx context.Context, r io.Reader, cfg Config) (*model.Log, *LoadReport, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	rep := &LoadReport{Format: FormatXES.String(), maxErrors: cfg.MaxReportedErrors}
	log := &model.Log{}

	state := stateInit
	var (
		caseID    string
		caseAttrs model.Attributes
		trace     []xesEvent
		current   *xesEvent
		elements  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, rep, err
		}

		line, err := reader.ReadBytes('>')
		if err != nil && err != io.EOF {
			return nil, rep, err
		}
		if len(line) == 0 && err == io.EOF {
			break
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case isOpenTag(line, xmlLog):
			state = stateLog

		case isOpenTag(line, xmlTrace):
			state = stateTrace
			caseID, caseAttrs, trace = "", nil, nil

		case isCloseTag(line, xmlTrace):
			log.Events = append(log.Events, pairLifecycle(caseID, caseAttrs, trace, cfg, rep)...)
			state = stateLog
			caseID, caseAttrs, trace = "", nil, nil

		case isOpenTag(line, xmlEvent):
			state = stateEvent
			elements++
			current = &xesEvent{line: elements}

		case isCloseTag(line, xmlEvent):
			if current != nil {
				trace = append(trace, *current)
				current = nil
			}
			state = stateTrace

		case state == stateTrace && isAttributeTag(line):
			key, value := extractAttribute(line)
			if key == nil {
				continue
			}
			if bytes.Equal(key, xesConceptName) {
				caseID = string(value)
				continue
			}
			if caseAttrs == nil {
				caseAttrs = make(model.Attributes)
			}
			caseAttrs[CaseAttributePrefix+string(key)] = typedValue(line, string(value), cfg.TimestampFormat)

		case state == stateEvent && isAttributeTag(line):
			if current != nil {
				current.apply(line, cfg.TimestampFormat)
			}
		}

		if err == io.EOF {
			break
		}
	}

	return log, rep, nil
}

func (e *xesEvent) apply(line []byte, layout string) {
	key, value := extractAttribute(line)
	if key == nil {
		return
	}
	v := string(value)

	switch {
	case bytes.Equal(key, xesConceptName):
		e.activity = v
	case bytes.Equal(key, xesTimeStamp):
		ts, err := parseTimestamp(v, layout)
		e.ts, e.tsErr = ts, err != nil
	case bytes.Equal(key, xesOrgResource):
		e.resource = v
	case bytes.Equal(key, xesLifecycleTr):
		e.lifecycle = strings.ToLower(v)
	case bytes.Equal(key, xesIdentityID):
		e.id = v
	default:
		if e.attributes == nil {
			e.attributes = make(model.Attributes)
		}
		e.attributes[string(key)] = typedValue(line, v, layout)
	}
}

// pairLifecycle turns the raw elements of one trace into events.
func pairLifecycle(caseID string, caseAttrs model.Attributes, trace []xesEvent, cfg Config, rep *LoadReport) []model.Event {
	var (
		out     []model.Event
		pending = make(map[string][]xesEvent)
	)
	for _, e := range trace {
		switch e.lifecycle {
		case "", "start", "complete":
		default:
			// schedule, suspend, resume and the like carry no execution bounds.
			continue
		}
		rep.Rows++
		switch {
		case caseID == "":
			rep.reject(e.line, "trace without concept:name")
			continue
		case e.activity == "":
			rep.reject(e.line, "event without concept:name")
			continue
		case e.tsErr || e.ts.IsZero():
			rep.reject(e.line, "missing or invalid time:timestamp")
			continue
		}

		if e.lifecycle == "start" {
			pending[e.activity] = append(pending[e.activity], e)
			continue
		}

		ev := model.Event{
			ID:       e.id,
			CaseID:   caseID,
			Activity: e.activity,
			Resource: e.resource,
			End:      e.ts,
		}
		var attrs model.Attributes
		if q := pending[e.activity]; len(q) > 0 {
			start := q[0]
			pending[e.activity] = q[1:]
			ev.Start = start.ts
			if ev.Resource == "" {
				ev.Resource = start.resource
			}
			attrs = merge(attrs, start.attributes)
			// The start element is folded into this event.
			rep.Accepted++
		}
		attrs = merge(attrs, e.attributes)
		attrs = merge(attrs, caseAttrs)
		ev.Attributes = attrs
		out = append(out, ev)
		rep.Accepted++
	}

	for _, q := range pending {
		for _, e := range q {
			rep.reject(e.line, "start without matching complete")
		}
	}
	return out
}

func merge(dst, src model.Attributes) model.Attributes {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(model.Attributes, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// typedValue converts an attribute value according to its XES element type.
func typedValue(line []byte, raw, layout string) model.Value {
	switch {
	case hasElement(line, xmlDate):
		if t, err := parseTimestamp(raw, layout); err == nil {
			return model.Temporal(t)
		}
	case hasElement(line, xmlInt), hasElement(line, xmlFloat):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return model.Numeric(f)
		}
	}
	return model.Categorical(raw)
}

func hasElement(line, element []byte) bool {
	return len(line) > len(element) && line[0] == '<' && bytes.HasPrefix(line[1:], element)
}

// isOpenTag checks if line is an opening tag for the given element.
func isOpenTag(line, element []byte) bool {
	if len(line) < len(element)+2 || line[0] != '<' {
		return false
	}
	if !bytes.HasPrefix(line[1:], element) {
		return false
	}
	next := 1 + len(element)
	if next >= len(line) {
		return true
	}
	c := line[next]
	return c == '>' || c == ' ' || c == '\t' || c == '\n' || c == '/'
}

// isCloseTag checks if line is a closing tag for the given element.
func isCloseTag(line, element []byte) bool {
	if len(line) < len(element)+3 {
		return false
	}
	if line[0] == '<' && line[1] == '/' {
		return bytes.HasPrefix(line[2:], element)
	}
	return false
}

// isAttributeTag checks if line is an XES attribute element.
func isAttributeTag(line []byte) bool {
	return hasElement(line, xmlString) ||
		hasElement(line, xmlDate) ||
		hasElement(line, xmlInt) ||
		hasElement(line, xmlFloat) ||
		hasElement(line, xmlBool) ||
		hasElement(line, xmlID)
}

func extractAttribute(line []byte) (key, value []byte) {
	key = extractAttrValue(line, []byte(`key="`))
	value = extractAttrValue(line, []byte(`value="`))
	if key == nil || value == nil {
		return nil, nil
	}
	return key, value
}

func extractAttrValue(line, prefix []byte) []byte {
	idx := bytes.Index(line, prefix)
	if idx < 0 {
		return nil
	}
	start := idx + len(prefix)
	end := bytes.IndexByte(line[start:], '"')
	if end < 0 {
		return nil
	}
	raw := line[start : start+end]
	if bytes.IndexByte(raw, '&') >= 0 {
		return []byte(html.UnescapeString(string(raw)))
	}
	return raw
}
