package step

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

var errNoPathMatch = errors.New("no data matches the specified path")

func parseJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot parse as JSON: %w", err)
	}
	return doc, nil
}

func parseJSONDocument(_ preproc.StepType, v variant.Value) (any, error) {
	return parseJSON(v.String())
}

// jsonDocument returns the parsed value, reusing the shared master cache when
// it was prepared for JSON.
func jsonDocument(v variant.Value, cache *preproc.Cache) (any, error) {
	if doc, ok, err := cache.Document(preproc.StepJSONPath, parseJSONDocument); ok {
		return doc, err
	}
	return parseJSON(v.String())
}

func jsonPathStep(v variant.Value, cache *preproc.Cache, params string) (variant.Value, error) {
	path, err := compilePath(params)
	if err != nil {
		return v, err
	}
	doc, err := jsonDocument(v, cache)
	if err != nil {
		return v, err
	}
	out, err := path.query(doc)
	if err != nil {
		return v, fmt.Errorf("cannot extract value from json by path %q: %w", params, err)
	}
	return variant.Str(out), nil
}

// errorFieldJSON fails the step with the text found at the path. Values
// that are not JSON, or do not contain the field, pass through.
func errorFieldJSON(v variant.Value, params string) (variant.Value, error) {
	path, err := compilePath(params)
	if err != nil {
		return v, err
	}
	doc, err := parseJSON(v.String())
	if err != nil {
		return v, nil
	}
	msg, err := path.query(doc)
	if err != nil || msg == "" {
		return v, nil
	}
	return v, errors.New(msg)
}

type segmentKind int

const (
	segName segmentKind = iota
	segIndex
	segWildcard
	segDeep
	segFilter
)

type segment struct {
	kind   segmentKind
	name   string
	index  int
	filter *filter
}

type filter struct {
	field string
	op    string
	value any
}

type jsonPath struct {
	segments []segment
	fn       string
}

// definite reports whether the path selects at most one node.
func (p *jsonPath) definite() bool {
	for _, s := range p.segments {
		if s.kind == segWildcard || s.kind == segDeep || s.kind == segFilter {
			return false
		}
	}
	return true
}

var pathFunctions = map[string]bool{
	"length": true, "first": true, "sum": true, "min": true, "max": true, "avg": true,
}

// compilePath parses the supported JSONPath subset: $, .name, ['name'],
// [n], [*], .*, ..name, [?(@.field op literal)] and a trailing function
// call such as .length().
func compilePath(expr string) (*jsonPath, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "$") {
		return nil, fmt.Errorf("invalid JSONPath %q: must start with $", expr)
	}
	p := &jsonPath{}
	i := 1
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], ".."):
			name, n := readName(s[i+2:])
			if name == "" {
				return nil, fmt.Errorf("invalid JSONPath %q: missing name after ..", expr)
			}
			p.segments = append(p.segments, segment{kind: segDeep, name: name})
			i += 2 + n
		case s[i] == '.':
			if strings.HasPrefix(s[i+1:], "*") {
				p.segments = append(p.segments, segment{kind: segWildcard})
				i += 2
				continue
			}
			name, n := readName(s[i+1:])
			if name == "" {
				return nil, fmt.Errorf("invalid JSONPath %q: missing name at position %d", expr, i)
			}
			i += 1 + n
			if strings.HasPrefix(s[i:], "()") {
				if !pathFunctions[name] {
					return nil, fmt.Errorf("invalid JSONPath %q: unknown function %s()", expr, name)
				}
				if i+2 != len(s) {
					return nil, fmt.Errorf("invalid JSONPath %q: function must be last", expr)
				}
				p.fn = name
				i += 2
				continue
			}
			p.segments = append(p.segments, segment{kind: segName, name: name})
		case s[i] == '[':
			end := closingBracket(s, i)
			if end < 0 {
				return nil, fmt.Errorf("invalid JSONPath %q: unterminated [", expr)
			}
			seg, err := parseBracket(s[i+1 : end])
			if err != nil {
				return nil, fmt.Errorf("invalid JSONPath %q: %w", expr, err)
			}
			p.segments = append(p.segments, seg)
			i = end + 1
		default:
			return nil, fmt.Errorf("invalid JSONPath %q: unexpected %q at position %d", expr, s[i], i)
		}
	}
	return p, nil
}

func readName(s string) (string, int) {
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '.' || c == '[' || c == '(' {
			break
		}
		n++
	}
	return s[:n], n
}

// closingBracket finds the ] matching the [ at open, skipping quoted text.
func closingBracket(s string, open int) int {
	var quote byte
	for i := open + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parseBracket(body string) (segment, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "*":
		return segment{kind: segWildcard}, nil
	case isQuoted(body):
		return segment{kind: segName, name: body[1 : len(body)-1]}, nil
	case strings.HasPrefix(body, "?(") && strings.HasSuffix(body, ")"):
		f, err := parseFilter(body[2 : len(body)-1])
		if err != nil {
			return segment{}, err
		}
		return segment{kind: segFilter, filter: f}, nil
	}
	n, err := strconv.Atoi(body)
	if err != nil {
		return segment{}, fmt.Errorf("invalid index %q", body)
	}
	return segment{kind: segIndex, index: n}, nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]
}

var filterOps = []string{"==", "!=", "<=", ">=", "<", ">"}

func parseFilter(expr string) (*filter, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@.") {
		return nil, fmt.Errorf("unsupported filter %q", expr)
	}
	for _, op := range filterOps {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(expr[2:idx])
		lit := strings.TrimSpace(expr[idx+len(op):])
		f := &filter{field: field, op: op}
		switch {
		case isQuoted(lit):
			f.value = lit[1 : len(lit)-1]
		default:
			n, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid filter literal %q", lit)
			}
			f.value = n
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported filter %q", expr)
}

func (f *filter) match(node any) bool {
	obj, ok := node.(map[string]any)
	if !ok {
		return false
	}
	field, ok := obj[f.field]
	if !ok {
		return false
	}

	switch want := f.value.(type) {
	case string:
		got, ok := field.(string)
		if !ok {
			return false
		}
		return compare(strings.Compare(got, want), f.op)
	case float64:
		got, ok := number(field)
		if !ok {
			return false
		}
		switch {
		case got < want:
			return compare(-1, f.op)
		case got > want:
			return compare(1, f.op)
		default:
			return compare(0, f.op)
		}
	}
	return false
}

func compare(c int, op string) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func (p *jsonPath) query(doc any) (string, error) {
	nodes := []any{doc}
	for _, seg := range p.segments {
		nodes = seg.apply(nodes)
		if len(nodes) == 0 {
			return "", errNoPathMatch
		}
	}

	if p.fn != "" {
		values := nodes
		if p.definite() {
			arr, ok := nodes[0].([]any)
			if !ok {
				return "", fmt.Errorf("function %s() requires an array", p.fn)
			}
			values = arr
		}
		return applyFunction(p.fn, values)
	}

	if p.definite() {
		return render(nodes[0])
	}
	return render(nodes)
}

func (s segment) apply(nodes []any) []any {
	var out []any
	for _, n := range nodes {
		switch s.kind {
		case segName:
			if obj, ok := n.(map[string]any); ok {
				if v, ok := obj[s.name]; ok {
					out = append(out, v)
				}
			}
		case segIndex:
			if arr, ok := n.([]any); ok {
				i := s.index
				if i < 0 {
					i += len(arr)
				}
				if i >= 0 && i < len(arr) {
					out = append(out, arr[i])
				}
			}
		case segWildcard:
			out = append(out, children(n)...)
		case segDeep:
			out = deepScan(n, s.name, out)
		case segFilter:
			for _, c := range children(n) {
				if s.filter.match(c) {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// children returns array elements in order, or object members sorted by key.
func children(n any) []any {
	switch v := n.(type) {
	case []any:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, v[k])
		}
		return out
	}
	return nil
}

func deepScan(n any, name string, out []any) []any {
	if obj, ok := n.(map[string]any); ok {
		if v, ok := obj[name]; ok {
			out = append(out, v)
		}
	}
	for _, c := range children(n) {
		out = deepScan(c, name, out)
	}
	return out
}

func render(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func applyFunction(fn string, values []any) (string, error) {
	if fn == "length" {
		return strconv.Itoa(len(values)), nil
	}
	if len(values) == 0 {
		return "", errNoPathMatch
	}
	if fn == "first" {
		return render(values[0])
	}

	var sum float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		f, ok := number(v)
		if !ok {
			return "", fmt.Errorf("function %s() requires numeric values", fn)
		}
		sum += f
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}

	var res float64
	switch fn {
	case "sum":
		res = sum
	case "min":
		res = lo
	case "max":
		res = hi
	case "avg":
		res = sum / float64(len(values))
	}
	return strconv.FormatFloat(res, 'f', -1, 64), nil
}
