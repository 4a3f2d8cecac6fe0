package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should name the valid formats, got %v", err)
	}
}

type row struct {
	Role    string    `json:"role"`
	Calls   int       `json:"calls"`
	Rate    float64   `json:"rate"`
	Deps    []string  `json:"deps"`
	Code    string    `json:"code"`
	At      time.Time `json:"at"`
	private int
}

func sample() []row {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []row{
		{Role: "math", Calls: 10, Rate: 0.95, Deps: []string{"a", "b"}, Code: "package main\nfunc Run() {}", At: at},
		{Role: "text", Calls: 2, Rate: 1},
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, &buf).Render(sample()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	for _, h := range []string{"ROLE", "CALLS", "RATE", "DEPS", "CODE", "AT"} {
		if !strings.Contains(lines[0], h) {
			t.Errorf("header %q missing: %s", h, lines[0])
		}
	}
	if strings.Contains(lines[0], "PRIVATE") {
		t.Error("unexported field rendered")
	}
	for _, want := range []string{"math", "0.95", "a,b", "package main ...", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row missing %q: %s", want, lines[1])
		}
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, &buf).Render(&sample()[0]); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "role:") || !strings.Contains(got, "math") || !strings.Contains(got, "calls:") {
		t.Errorf("table output: %s", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, &buf).Render([]row{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice output: %s", buf.String())
	}
}

func TestRenderer_JSONAndYAML(t *testing.T) {
	data := map[string]string{"key": "value"}

	var js bytes.Buffer
	if err := NewRendererWithWriter(FormatJSON, &js).Render(data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js.String(), `"key": "value"`) {
		t.Errorf("json output: %s", js.String())
	}

	var ym bytes.Buffer
	if err := NewRendererWithWriter(FormatYAML, &ym).Render(data); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(ym.String()) != "key: value" {
		t.Errorf("yaml output: %s", ym.String())
	}
}

func TestRenderer_RenderTUIUnsupported(t *testing.T) {
	err := NewRendererWithWriter(FormatJSON, &bytes.Buffer{}).RenderTUI("ledger", nil)
	if err == nil || !strings.Contains(err.Error(), "--tui") {
		t.Errorf("err = %v", err)
	}
}
