package step

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// sample is one exposition line: summaries and histograms are flattened into
// their _sum, _count, _bucket and quantile series.
type sample struct {
	Name   string            `json:"name"`
	Value  string            `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Type   string            `json:"type"`
	Help   string            `json:"help,omitempty"`

	num float64
}

func parseMetrics(text string) ([]sample, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("cannot parse Prometheus data: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []sample
	for _, name := range names {
		out = appendFamily(out, families[name])
	}
	return out, nil
}

func parseMetricsDocument(_ preproc.StepType, v variant.Value) (any, error) {
	return parseMetrics(v.String())
}

func metricsDocument(v variant.Value, cache *preproc.Cache, t preproc.StepType) ([]sample, error) {
	if doc, ok, err := cache.Document(t, parseMetricsDocument); ok {
		if err != nil {
			return nil, err
		}
		return doc.([]sample), nil
	}
	return parseMetrics(v.String())
}

func appendFamily(out []sample, mf *dto.MetricFamily) []sample {
	name := mf.GetName()
	typ := strings.ToLower(mf.GetType().String())
	help := mf.GetHelp()

	add := func(n string, labels map[string]string, v float64) {
		out = append(out, sample{
			Name:   n,
			Value:  formatMetricValue(v),
			Labels: labels,
			Type:   typ,
			Help:   help,
			num:    v,
		})
	}

	for _, m := range mf.GetMetric() {
		labels := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}

		switch {
		case m.Counter != nil:
			add(name, labels, m.GetCounter().GetValue())
		case m.Gauge != nil:
			add(name, labels, m.GetGauge().GetValue())
		case m.Untyped != nil:
			add(name, labels, m.GetUntyped().GetValue())
		case m.Summary != nil:
			s := m.GetSummary()
			for _, q := range s.GetQuantile() {
				add(name, withLabel(labels, "quantile", formatMetricValue(q.GetQuantile())), q.GetValue())
			}
			add(name+"_sum", labels, s.GetSampleSum())
			add(name+"_count", labels, float64(s.GetSampleCount()))
		case m.Histogram != nil:
			h := m.GetHistogram()
			for _, b := range h.GetBucket() {
				add(name+"_bucket", withLabel(labels, "le", formatMetricValue(b.GetUpperBound())), float64(b.GetCumulativeCount()))
			}
			add(name+"_sum", labels, h.GetSampleSum())
			add(name+"_count", labels, float64(h.GetSampleCount()))
		}
	}
	return out
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

func formatMetricValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type labelMatcher struct {
	name string
	op   string
	val  string
	re   *regexp.Regexp
}

func (m labelMatcher) match(s sample) bool {
	got := s.Labels[m.name]
	if m.name == "__name__" {
		got = s.Name
	}
	switch m.op {
	case "=":
		return got == m.val
	case "!=":
		return got != m.val
	case "=~":
		return m.re.MatchString(got)
	case "!~":
		return !m.re.MatchString(got)
	}
	return false
}

// metricPattern selects samples by metric name, label matchers and an
// optional value comparison, e.g. `http_requests_total{code=~"5.."} == 1`.
type metricPattern struct {
	name     string
	matchers []labelMatcher
	value    *float64
}

func (p *metricPattern) match(s sample) bool {
	if p.name != "" && s.Name != p.name {
		return false
	}
	for _, m := range p.matchers {
		if !m.match(s) {
			return false
		}
	}
	return p.value == nil || s.num == *p.value
}

func (p *metricPattern) filter(samples []sample) []sample {
	var out []sample
	for _, s := range samples {
		if p.match(s) {
			out = append(out, s)
		}
	}
	return out
}

func compilePattern(expr string) (*metricPattern, error) {
	expr = strings.TrimSpace(expr)
	p := &metricPattern{}
	if expr == "" {
		return p, nil
	}

	if idx := strings.LastIndex(expr, "=="); idx >= 0 && idx > strings.LastIndex(expr, "}") {
		f, err := strconv.ParseFloat(strings.TrimSpace(expr[idx+2:]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: bad value comparison", expr)
		}
		p.value = &f
		expr = strings.TrimSpace(expr[:idx])
	}

	open := strings.IndexByte(expr, '{')
	if open < 0 {
		p.name = expr
		return p, nil
	}
	if !strings.HasSuffix(expr, "}") {
		return nil, fmt.Errorf("invalid pattern %q: unterminated label list", expr)
	}
	p.name = strings.TrimSpace(expr[:open])

	for _, part := range splitLabels(expr[open+1 : len(expr)-1]) {
		m, err := parseMatcher(part)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
		}
		p.matchers = append(p.matchers, m)
	}
	return p, nil
}

// splitLabels splits a label list on commas outside quotes.
func splitLabels(s string) []string {
	var (
		parts   []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			if p := strings.TrimSpace(cur.String()); p != "" {
				parts = append(parts, p)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func parseMatcher(s string) (labelMatcher, error) {
	for _, op := range []string{"=~", "!~", "!=", "="} {
		idx := strings.Index(s, op)
		if idx <= 0 {
			continue
		}
		m := labelMatcher{name: strings.TrimSpace(s[:idx]), op: op}
		val := strings.TrimSpace(s[idx+len(op):])
		uq, err := strconv.Unquote(val)
		if err != nil {
			return m, fmt.Errorf("label %s value must be quoted", m.name)
		}
		m.val = uq
		if op == "=~" || op == "!~" {
			re, err := regexp.Compile("^(?:" + uq + ")$")
			if err != nil {
				return m, fmt.Errorf("label %s: %w", m.name, err)
			}
			m.re = re
		}
		return m, nil
	}
	return labelMatcher{}, fmt.Errorf("cannot parse label matcher %q", s)
}

// prometheusPattern extracts a value from Prometheus exposition text. Params
// are "<pattern>\n<value|label|function>\n<label name or function>".
func prometheusPattern(v variant.Value, cache *preproc.Cache, params string) (variant.Value, error) {
	p := splitParams(params, 3)
	pattern, err := compilePattern(p[0])
	if err != nil {
		return v, err
	}
	samples, err := metricsDocument(v, cache, preproc.StepPrometheusPattern)
	if err != nil {
		return v, err
	}

	matched := pattern.filter(samples)
	mode := strings.TrimSpace(p[1])
	if mode == "" {
		mode = "value"
	}

	if mode == "function" {
		return aggregate(strings.TrimSpace(p[2]), matched)
	}
	if len(matched) == 0 {
		return v, errors.New("no data matches the specified pattern")
	}
	if len(matched) > 1 {
		return v, fmt.Errorf("data extraction error: %d metrics match the pattern", len(matched))
	}

	switch mode {
	case "value":
		return variant.Str(matched[0].Value), nil
	case "label":
		name := strings.TrimSpace(p[2])
		lv, ok := matched[0].Labels[name]
		if !ok {
			return v, fmt.Errorf("label %q not found", name)
		}
		return variant.Str(lv), nil
	default:
		return v, fmt.Errorf("unknown output type %q", mode)
	}
}

func aggregate(fn string, samples []sample) (variant.Value, error) {
	if fn == "count" {
		return variant.Uint64(uint64(len(samples))), nil
	}
	if len(samples) == 0 {
		return variant.None(), errors.New("no data matches the specified pattern")
	}

	sum := 0.0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		sum += s.num
		lo = math.Min(lo, s.num)
		hi = math.Max(hi, s.num)
	}

	switch fn {
	case "sum":
		return variant.Float64(sum), nil
	case "min":
		return variant.Float64(lo), nil
	case "max":
		return variant.Float64(hi), nil
	case "avg":
		return variant.Float64(sum / float64(len(samples))), nil
	}
	return variant.None(), fmt.Errorf("unknown aggregation function %q", fn)
}

// prometheusToJSON converts the samples selected by the pattern (all when
// empty) to a JSON array.
func prometheusToJSON(v variant.Value, cache *preproc.Cache, params string) (variant.Value, error) {
	pattern, err := compilePattern(params)
	if err != nil {
		return v, err
	}
	samples, err := metricsDocument(v, cache, preproc.StepPrometheusToJSON)
	if err != nil {
		return v, err
	}

	matched := pattern.filter(samples)
	if matched == nil {
		matched = []sample{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(matched); err != nil {
		return v, err
	}
	return variant.Str(strings.TrimSuffix(buf.String(), "\n")), nil
}
