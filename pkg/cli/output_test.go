package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type speakerRow struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

type label string

func (l label) String() string { return "[" + string(l) + "]" }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"JSON", FormatJSON, false},
		{"text", FormatText, false},
		{"table", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer

	data := map[string]any{
		"name":  "test",
		"value": 123,
	}

	err := Output(data, OutputOptions{
		Format: FormatJSON,
		Writer: &buf,
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if result["name"] != "test" {
		t.Errorf("name = %v, want %q", result["name"], "test")
	}
}

func TestOutput_DefaultFormat(t *testing.T) {
	var buf bytes.Buffer

	err := Output(map[string]string{"key": "value"}, OutputOptions{Writer: &buf})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}
	if !strings.Contains(buf.String(), "key: value") {
		t.Errorf("Default format should be YAML, got: %s", buf.String())
	}
}

func TestOutput_Text(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello\n"},
		{"stringer", label("Alice"), "[Alice]\n"},
		{"lines", []string{"a", "b"}, "a\nb\n"},
		{"bytes", []byte("raw"), "raw"},
		{"fallback", map[string]int{"count": 42}, "count: 42\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Output(tt.in, OutputOptions{Format: FormatText, Writer: &buf}); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestOutput_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer

	err := Output("data", OutputOptions{
		Format: "invalid",
		Writer: &buf,
	})
	if err == nil {
		t.Error("Output should fail for unsupported format")
	}
}

func TestOutput_ToFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "output.json")

	err := Output(map[string]string{"key": "value"}, OutputOptions{
		Format: FormatJSON,
		File:   filePath,
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var result map[string]string
	if err := json.Unmarshal(content, &result); err != nil {
		t.Fatalf("Invalid JSON in file: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("key = %q, want %q", result["key"], "value")
	}
}

func TestOutput_JQ(t *testing.T) {
	rows := []speakerRow{{"Alice", 5}, {"Bob", 2}}

	var buf bytes.Buffer
	err := Output(rows, OutputOptions{
		Format: FormatText,
		JQ:     ".[] | select(.count > 3) | .name",
		Writer: &buf,
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Alice\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	err = Output(rows, OutputOptions{
		Format: FormatJSON,
		JQ:     "map(.count)",
		Writer: &buf,
	})
	if err != nil {
		t.Fatal(err)
	}
	var counts []int
	if err := json.Unmarshal(buf.Bytes(), &counts); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if len(counts) != 2 || counts[0] != 5 || counts[1] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestFilter(t *testing.T) {
	vs, err := Filter(map[string]any{"a": 1, "b": 2}, ".a, .b")
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Fatalf("values = %v", vs)
	}

	if _, err := Filter(nil, ".["); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Filter("text", ".foo"); err == nil {
		t.Error("expected runtime error indexing a string")
	}
	vs, err = Filter(1, "halt")
	if err != nil || len(vs) != 0 {
		t.Errorf("halt = %v, %v", vs, err)
	}
}
