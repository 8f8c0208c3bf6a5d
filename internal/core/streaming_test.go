package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMSkippingReader(t *testing.T) {
	bom := string(utf8BOM)
	tests := []struct {
		name      string
		input     string
		want      string
		wantFound bool
	}{
		{"leading bom", bom + "sku,qty\n", "sku,qty\n", true},
		{"no bom", "sku,qty\n", "sku,qty\n", false},
		{"empty", "", "", false},
		{"bom only", bom, "", true},
		{"truncated bom kept", "\xEF\xBBsku", "\xEF\xBBsku", false},
		{"bom later in stream kept", "a" + bom, "a" + bom, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBOMSkippingReader(strings.NewReader(tt.input))
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
			if r.Found() != tt.wantFound {
				t.Errorf("Found() = %v, want %v", r.Found(), tt.wantFound)
			}
		})
	}
}

func TestBOMSkippingReader_OneByteReads(t *testing.T) {
	src := iotest.OneByteReader(strings.NewReader(string(utf8BOM) + "x,y"))
	got, err := io.ReadAll(NewBOMSkippingReader(src))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "x,y" {
		t.Errorf("content = %q, want %q", got, "x,y")
	}
}

func TestHasBOM(t *testing.T) {
	if !hasBOM(append(bytes.Clone(utf8BOM), 'a')) {
		t.Error("hasBOM should detect a leading BOM")
	}
	if hasBOM([]byte("abc")) || hasBOM(nil) {
		t.Error("hasBOM false positive")
	}
}

func TestCountingReader(t *testing.T) {
	data := strings.Repeat("x", 1000)
	r := NewCountingReader(strings.NewReader(data), int64(len(data)))

	buf := make([]byte, 250)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if got := r.BytesRead(); got != 250 {
		t.Errorf("BytesRead() = %d, want 250", got)
	}
	if got := r.Progress(); got != 25 {
		t.Errorf("Progress() = %d, want 25", got)
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatal(err)
	}
	if got := r.Progress(); got != 100 {
		t.Errorf("Progress() = %d, want 100", got)
	}
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	r := NewCountingReader(strings.NewReader("abc"), 0)
	io.Copy(io.Discard, r)
	if r.Progress() != 0 {
		t.Errorf("Progress() = %d, want 0 with unknown total", r.Progress())
	}
	if r.BytesRead() != 3 {
		t.Errorf("BytesRead() = %d, want 3", r.BytesRead())
	}
}
