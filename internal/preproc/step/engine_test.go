package step

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

func def(steps ...preproc.Step) *preproc.Definition {
	return preproc.NewDefinition(preproc.DefinitionConfig{
		ItemID:    100,
		HostID:    1,
		ValueType: preproc.ValueTypeStr,
		Steps:     steps,
	})
}

func st(t preproc.StepType, params string) preproc.Step {
	return preproc.Step{Type: t, Params: params}
}

func run(t *testing.T, d *preproc.Definition, in variant.Value) variant.Value {
	t.Helper()
	return New().Execute(d, nil, in, time.Unix(1000, 0), nil, false).Value
}

func TestExecuteSingleSteps(t *testing.T) {
	tests := []struct {
		name string
		step preproc.Step
		in   variant.Value
		want variant.Value
	}{
		{"trim whitespace", st(preproc.StepTrim, ""), variant.Str("  5 "), variant.Str("5")},
		{"trim chars", st(preproc.StepTrim, "x"), variant.Str("xx5x"), variant.Str("5")},
		{"rtrim", st(preproc.StepRTrim, ""), variant.Str(" 5 \n"), variant.Str(" 5")},
		{"ltrim", st(preproc.StepLTrim, "0"), variant.Str("0042"), variant.Str("42")},
		{"multiply uint", st(preproc.StepMultiplier, "2"), variant.Str("3"), variant.Uint64(6)},
		{"multiply float", st(preproc.StepMultiplier, "0.5"), variant.Str("3"), variant.Float64(1.5)},
		{"regsub", st(preproc.StepRegsub, `value: (\d+)`+"\n"+`\1`), variant.Str("value: 42 units"), variant.Str("42")},
		{"str replace", st(preproc.StepStrReplace, "-\n_"), variant.Str("a-b-c"), variant.Str("a_b_c")},
		{"bool", st(preproc.StepBoolToDecimal, ""), variant.Str("On"), variant.Uint64(1)},
		{"octal", st(preproc.StepOctalToDecimal, ""), variant.Str("17"), variant.Uint64(15)},
		{"hex", st(preproc.StepHexToDecimal, ""), variant.Str("0x1F"), variant.Uint64(31)},
		{"range ok", st(preproc.StepValidateRange, "0\n10"), variant.Str("7"), variant.Str("7")},
		{"regex ok", st(preproc.StepValidateRegex, `^\d+$`), variant.Str("12"), variant.Str("12")},
		{"not regex ok", st(preproc.StepValidateNotRegex, `^\d+$`), variant.Str("ab"), variant.Str("ab")},
		{"jsonpath", st(preproc.StepJSONPath, "$.a.b[1]"), variant.Str(`{"a":{"b":[1,2,3]}}`), variant.Str("2")},
		{"not supported passes values", st(preproc.StepValidateNotSupported, ""), variant.Str("1"), variant.Str("1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, def(tt.step), tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Describe(), tt.want.Describe())
			}
		})
	}
}

func TestExecuteNoSteps(t *testing.T) {
	got := run(t, def(), variant.Str("x"))
	if !got.Equal(variant.Str("x")) {
		t.Errorf("got %s, want str:\"x\"", got.Describe())
	}
}

func TestExecuteFailureMessage(t *testing.T) {
	d := def(st(preproc.StepTrim, ""), st(preproc.StepMultiplier, "2"))
	got := run(t, d, variant.Str("abc"))

	if !got.IsError() {
		t.Fatalf("got %s, want error", got.Describe())
	}
	if !strings.HasPrefix(got.Err(), "Preprocessing failed for: abc\n2. Failed: ") {
		t.Errorf("unexpected message %q", got.Err())
	}
}

func TestExecuteErrorHandlers(t *testing.T) {
	base := st(preproc.StepMultiplier, "2")

	tests := []struct {
		name    string
		handler preproc.ErrorHandler
		params  string
		want    variant.Value
	}{
		{"discard", preproc.ErrorHandlerDiscard, "", variant.None()},
		{"set value", preproc.ErrorHandlerSetValue, "0", variant.Str("0")},
		{"set error", preproc.ErrorHandlerSetError, "custom", variant.Error("custom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			s.ErrorHandler = tt.handler
			s.ErrorHandlerParams = tt.params
			got := run(t, def(s), variant.Str("abc"))
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Describe(), tt.want.Describe())
			}
		})
	}
}

func TestExecuteErrorInputSkipsSteps(t *testing.T) {
	in := variant.Error("agent unreachable")
	got := run(t, def(st(preproc.StepTrim, "")), in)
	if !got.Equal(in) {
		t.Errorf("got %s, want input error unchanged", got.Describe())
	}
}

func TestExecuteValidateNotSupported(t *testing.T) {
	s := st(preproc.StepValidateNotSupported, "")
	s.ErrorHandler = preproc.ErrorHandlerSetValue
	s.ErrorHandlerParams = "-1"

	got := run(t, def(s), variant.Error("timeout"))
	if !got.Equal(variant.Str("-1")) {
		t.Errorf("got %s, want str:\"-1\"", got.Describe())
	}

	m := st(preproc.StepValidateNotSupported, "match\n^timeout")
	m.ErrorHandler = preproc.ErrorHandlerDiscard
	if got := run(t, def(m), variant.Error("refused")); !got.Equal(variant.Error("refused")) {
		t.Errorf("non-matching error: got %s", got.Describe())
	}
	if got := run(t, def(m), variant.Error("timeout")); !got.IsNone() {
		t.Errorf("matching error: got %s, want none", got.Describe())
	}
}

func TestExecuteValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		step preproc.Step
		in   string
	}{
		{"range", st(preproc.StepValidateRange, "0\n10"), "15"},
		{"regex", st(preproc.StepValidateRegex, `^\d+$`), "abc"},
		{"not regex", st(preproc.StepValidateNotRegex, `^\d+$`), "12"},
		{"regsub no match", st(preproc.StepRegsub, "x(\\d)\n\\1"), "abc"},
		{"bad regex", st(preproc.StepValidateRegex, "("), "abc"},
		{"hex", st(preproc.StepHexToDecimal, ""), "xyz"},
		{"jsonpath no match", st(preproc.StepJSONPath, "$.missing"), `{"a":1}`},
		{"jsonpath invalid", st(preproc.StepJSONPath, "a.b"), `{"a":1}`},
		{"json invalid", st(preproc.StepJSONPath, "$.a"), `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(t, def(tt.step), variant.Str(tt.in)); !got.IsError() {
				t.Errorf("got %s, want error", got.Describe())
			}
		})
	}
}

func TestExecuteDeltaUsesHistory(t *testing.T) {
	e := New()
	ts := time.Unix(1000, 0)

	d := def(st(preproc.StepDeltaValue, ""))
	out := e.Execute(d, nil, variant.Str("10"), ts, nil, false)
	if !out.Value.IsNone() {
		t.Fatalf("first delta = %s, want none", out.Value.Describe())
	}
	if out.History.Len() != 1 {
		t.Fatalf("history len = %d, want 1", out.History.Len())
	}

	out = e.Execute(d, nil, variant.Str("15"), ts.Add(time.Second), out.History, false)
	if !out.Value.Equal(variant.Uint64(5)) {
		t.Errorf("delta = %s, want uint64:5", out.Value.Describe())
	}

	out = e.Execute(d, nil, variant.Str("3"), ts.Add(2*time.Second), out.History, false)
	if !out.Value.IsNone() {
		t.Errorf("delta after counter reset = %s, want none", out.Value.Describe())
	}
}

func TestExecuteDeltaSpeed(t *testing.T) {
	e := New()
	ts := time.Unix(1000, 0)
	d := def(st(preproc.StepDeltaSpeed, ""))

	out := e.Execute(d, nil, variant.Str("10"), ts, nil, false)
	out = e.Execute(d, nil, variant.Str("20"), ts.Add(5*time.Second), out.History, false)
	if !out.Value.Equal(variant.Float64(2)) {
		t.Errorf("speed = %s, want double:2", out.Value.Describe())
	}
}

func TestExecuteThrottle(t *testing.T) {
	e := New()
	ts := time.Unix(1000, 0)
	d := def(st(preproc.StepThrottleTimedValue, "10s"))

	out := e.Execute(d, nil, variant.Str("a"), ts, nil, false)
	if !out.Value.Equal(variant.Str("a")) {
		t.Fatalf("first value = %s", out.Value.Describe())
	}
	out = e.Execute(d, nil, variant.Str("a"), ts.Add(5*time.Second), out.History, false)
	if !out.Value.IsNone() {
		t.Errorf("repeat within period = %s, want none", out.Value.Describe())
	}
	out = e.Execute(d, nil, variant.Str("a"), ts.Add(11*time.Second), out.History, false)
	if !out.Value.Equal(variant.Str("a")) {
		t.Errorf("repeat after period = %s, want str:\"a\"", out.Value.Describe())
	}
}

func TestExecuteErrorDropsHistory(t *testing.T) {
	d := def(st(preproc.StepDeltaValue, ""), st(preproc.StepValidateRange, "0\n1"))
	e := New()
	ts := time.Unix(1000, 0)

	out := e.Execute(d, nil, variant.Str("1"), ts, nil, false)
	out = e.Execute(d, nil, variant.Str("9"), ts.Add(time.Second), out.History, false)
	if !out.Value.IsError() {
		t.Fatalf("got %s, want error", out.Value.Describe())
	}
	if out.History != nil {
		t.Error("history should be cleared on failure")
	}
}

func TestExecuteWithResults(t *testing.T) {
	d := def(st(preproc.StepTrim, ""), st(preproc.StepMultiplier, "10"), st(preproc.StepValidateRange, "0\n5"))
	out := New().Execute(d, nil, variant.Str(" 2 "), time.Unix(0, 0), nil, true)

	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}
	if !out.Results[1].Value.Equal(variant.Uint64(20)) {
		t.Errorf("step 2 = %s, want uint64:20", out.Results[1].Value.Describe())
	}
	if !out.Results[2].ValueRaw.IsError() {
		t.Errorf("step 3 raw = %s, want error", out.Results[2].ValueRaw.Describe())
	}
}

func TestJSONPathQueries(t *testing.T) {
	doc := `{"a":{"b":[1,2,3]},"items":[{"n":"x","v":"1"},{"n":"y","v":"2"}],"s":"text"}`

	tests := []struct {
		path string
		want string
	}{
		{"$.s", "text"},
		{"$['a']['b'][0]", "1"},
		{"$.a.b[-1]", "3"},
		{"$.a.b", "[1,2,3]"},
		{"$.a.b.length()", "3"},
		{"$.a.b.sum()", "6"},
		{"$.a.b.avg()", "2"},
		{"$.a.b[*]", "[1,2,3]"},
		{"$..b", "[[1,2,3]]"},
		{`$.items[?(@.n == "y")].v`, `["2"]`},
		{"$.items[*].v.first()", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := run(t, def(st(preproc.StepJSONPath, tt.path)), variant.Str(doc))
			if !got.Equal(variant.Str(tt.want)) {
				t.Errorf("got %s, want %q", got.Describe(), tt.want)
			}
		})
	}
}

func TestJSONPathUsesSharedCache(t *testing.T) {
	d := def(st(preproc.StepJSONPath, "$.v"))
	cache := preproc.NewCache(d, variant.Str(`{"v":"cached"}`), nil)
	defer cache.Release()

	out := New().Execute(d, cache, variant.None(), time.Unix(0, 0), nil, false)
	if !out.Value.Equal(variant.Str("cached")) {
		t.Fatalf("got %s", out.Value.Describe())
	}

	_, ok, err := cache.Document(preproc.StepJSONPath, func(preproc.StepType, variant.Value) (any, error) {
		t.Error("document parsed twice")
		return nil, nil
	})
	if !ok || err != nil {
		t.Errorf("Document() = %v, %v", ok, err)
	}
}

func TestErrorFieldJSON(t *testing.T) {
	s := st(preproc.StepErrorFieldJSON, "$.error")

	got := run(t, def(s), variant.Str(`{"error":"disk full"}`))
	if !got.IsError() || !strings.HasSuffix(got.Err(), "disk full") {
		t.Errorf("got %s, want error containing field text", got.Describe())
	}

	in := variant.Str(`{"ok":true}`)
	if got := run(t, def(s), in); !got.Equal(in) {
		t.Errorf("missing field: got %s, want input", got.Describe())
	}
}

const exposition = `# HELP http_requests_total Requests served.
# TYPE http_requests_total counter
http_requests_total{code="200",method="get"} 10
http_requests_total{code="500",method="get"} 2
# TYPE temp gauge
temp 21.5
`

func TestPrometheusPattern(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   variant.Value
	}{
		{"value", `http_requests_total{code="500"}` + "\nvalue\n", variant.Str("2")},
		{"regex label", `http_requests_total{code=~"2.."}`, variant.Str("10")},
		{"label", `http_requests_total{code="200"}` + "\nlabel\nmethod", variant.Str("get")},
		{"sum", "http_requests_total\nfunction\nsum", variant.Float64(12)},
		{"count", "http_requests_total\nfunction\ncount", variant.Uint64(2)},
		{"value filter", "http_requests_total == 10\nlabel\ncode", variant.Str("200")},
		{"gauge", "temp", variant.Str("21.5")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, def(st(preproc.StepPrometheusPattern, tt.params)), variant.Str(exposition))
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Describe(), tt.want.Describe())
			}
		})
	}
}

func TestPrometheusPatternAmbiguous(t *testing.T) {
	got := run(t, def(st(preproc.StepPrometheusPattern, "http_requests_total")), variant.Str(exposition))
	if !got.IsError() {
		t.Errorf("got %s, want error for multiple matches", got.Describe())
	}
}

func TestPrometheusToJSON(t *testing.T) {
	got := run(t, def(st(preproc.StepPrometheusToJSON, "temp")), variant.Str(exposition))
	want := `[{"name":"temp","value":"21.5","type":"gauge"}]`
	if !got.Equal(variant.Str(want)) {
		t.Errorf("got %s, want %s", got.Describe(), want)
	}
}

func TestParsePeriod(t *testing.T) {
	tests := map[string]time.Duration{
		"30":  30 * time.Second,
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := parsePeriod(in)
		if err != nil || got != want {
			t.Errorf("parsePeriod(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "0", "x", "-5"} {
		if _, err := parsePeriod(bad); err == nil {
			t.Errorf("parsePeriod(%q) should fail", bad)
		}
	}
}
