package ingest

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

func TestDecode(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name string
		line string
		want variant.Value
		ts   time.Time
	}{
		{"string", `{"itemid":1,"value":"abc"}`, variant.Str("abc"), now},
		{"unsigned", `{"itemid":1,"value":42}`, variant.Uint64(42), now},
		{"float", `{"itemid":1,"value":-1.5}`, variant.Float64(-1.5), now},
		{"forced string", `{"itemid":1,"value":42,"type":"str"}`, variant.Str("42"), now},
		{"forced unsigned", `{"itemid":1,"value":"17","type":"uint64"}`, variant.Uint64(17), now},
		{"forced double", `{"itemid":1,"value":3,"type":"double"}`, variant.Float64(3), now},
		{"error", `{"itemid":1,"value":"x","error":"timeout"}`, variant.Error("timeout"), now},
		{"none", `{"itemid":1}`, variant.None(), now},
		{"null", `{"itemid":1,"value":null}`, variant.None(), now},
		{"unix seconds", `{"itemid":1,"value":"a","ts":1700000000.5}`, variant.Str("a"), time.Unix(1700000000, 500000000)},
		{"rfc3339", `{"itemid":1,"value":"a","ts":"2024-01-02T03:04:05Z"}`, variant.Str("a"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv, err := Decode([]byte(tt.line), now)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if iv.ItemID != 1 {
				t.Errorf("ItemID = %d, want 1", iv.ItemID)
			}
			if !iv.Value.Equal(tt.want) {
				t.Errorf("Value = %s, want %s", iv.Value.Describe(), tt.want.Describe())
			}
			if !iv.TS.Equal(tt.ts) {
				t.Errorf("TS = %v, want %v", iv.TS, tt.ts)
			}
			if iv.Opt != nil {
				t.Errorf("Opt = %+v, want nil", iv.Opt)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `itemid=1`},
		{"missing item", `{"value":"a"}`},
		{"bad type", `{"itemid":1,"value":"a","type":"blob"}`},
		{"unconvertible", `{"itemid":1,"value":"abc","type":"uint64"}`},
		{"bad timestamp", `{"itemid":1,"value":"a","ts":"yesterday"}`},
		{"negative timestamp", `{"itemid":1,"value":"a","ts":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.line), time.Now()); err == nil {
				t.Error("Decode() succeeded")
			}
		})
	}
}

func TestDecodeOptions(t *testing.T) {
	line := `{"itemid":5,"value":"disk full","source":"syslog","severity":4,"logeventid":7,"timestamp":99,"lastlogsize":1024,"mtime":1700000000}`
	iv, err := Decode([]byte(line), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	o := iv.Opt
	if o == nil {
		t.Fatal("Opt = nil")
	}
	all := preproc.OptLogSource | preproc.OptLogEventID | preproc.OptLogSeverity |
		preproc.OptLogTimestamp | preproc.OptLastLogSize | preproc.OptMtime
	if o.Flags != all {
		t.Errorf("Flags = %b, want %b", o.Flags, all)
	}
	if o.Source != "syslog" || o.Severity != 4 || o.LogEventID != 7 || o.LogTime != 99 {
		t.Errorf("log fields = %+v", o)
	}
	if o.LastLogSize != 1024 || o.Mtime != 1700000000 {
		t.Errorf("meta fields = %+v", o)
	}
}

func TestDecodeMetaOnly(t *testing.T) {
	iv, err := Decode([]byte(`{"itemid":5,"lastlogsize":0}`), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !iv.Value.IsNone() {
		t.Errorf("Value = %s, want none", iv.Value.Describe())
	}
	if !iv.Opt.Has(preproc.OptLastLogSize) || iv.Opt.Has(preproc.OptMtime) {
		t.Errorf("Opt = %+v", iv.Opt)
	}
}

func TestReader(t *testing.T) {
	input := strings.Join([]string{
		`{"itemid":1,"value":"a"}`,
		``,
		`garbage`,
		`   {"itemid":2,"value":2}  `,
		`{"itemid":3}`,
	}, "\n")

	mock := clock.NewMock()
	mock.Set(time.Unix(500, 0))
	r := NewReader(strings.NewReader(input), WithClock(mock))

	var ids []uint64
	for {
		iv, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !iv.TS.Equal(time.Unix(500, 0)) {
			t.Errorf("item %d TS = %v", iv.ItemID, iv.TS)
		}
		ids = append(ids, iv.ItemID)
	}

	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("ids = %v, want [1 2 3]", ids)
	}
	if r.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", r.Skipped())
	}
}

func TestReaderStrict(t *testing.T) {
	r := NewReader(strings.NewReader("{\"itemid\":1}\nbroken\n"), WithStrict())

	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	_, err := r.Next()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("second Next() error = %v, want line 2 failure", err)
	}
}

func TestFeedBatches(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 7; i++ {
		sb.WriteString(`{"itemid":1,"value":"x"}` + "\n")
	}
	r := NewReader(strings.NewReader(sb.String()))

	var sizes []int
	err := r.Feed(context.Background(), 3, func(batch []preproc.ItemValue) {
		sizes = append(sizes, len(batch))
	})
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", sizes)
	}
}

func TestFeedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(strings.NewReader(`{"itemid":1}`))
	called := false
	err := r.Feed(ctx, 1, func([]preproc.ItemValue) { called = true })
	if err != context.Canceled {
		t.Errorf("Feed() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("Feed() delivered values after cancellation")
	}
}
