package pubcontrol

import (
	"errors"
	"reflect"
	"testing"
)

func TestItemExportMergesIDsAndFormats(t *testing.T) {
	it := NewItem([]Format{RawFormat{FormatName: "n", Fields: map[string]any{"v": 1}}}, WithID("i"), WithPrevID("p"))
	got, err := it.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := map[string]any{"id": "i", "prev-id": "p", "n": map[string]any{"v": 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Export = %#v, want %#v", got, want)
	}
}

func TestItemExportOmitsUnsetIDs(t *testing.T) {
	got, err := jsonItem(map[string]any{"a": "b"}).Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, ok := got["id"]; ok {
		t.Fatal("unexpected id")
	}
	if _, ok := got["prev-id"]; ok {
		t.Fatal("unexpected prev-id")
	}
	if len(got) != 1 {
		t.Fatalf("Export = %#v, want only json-object", got)
	}
}

func TestItemExportEmptyIDIsKept(t *testing.T) {
	got, err := NewItem(nil, WithID("")).Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if v, ok := got["id"]; !ok || v != "" {
		t.Fatalf("id = %v (present=%v), want empty string", v, ok)
	}
}

func TestItemExportDuplicateFormat(t *testing.T) {
	tests := []struct {
		name    string
		formats []Format
	}{
		{
			name: "same payload",
			formats: []Format{
				RawFormat{FormatName: "n", Fields: map[string]any{"v": 1}},
				RawFormat{FormatName: "n", Fields: map[string]any{"v": 1}},
			},
		},
		{
			name: "different payload",
			formats: []Format{
				JSONObjectFormat{Value: map[string]any{"a": 1}},
				HTTPStreamFormat{Content: []byte("x")},
				JSONObjectFormat{Value: map[string]any{"b": 2}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewItem(tt.formats).Export()
			if !errors.Is(err, ErrDuplicateFormat) {
				t.Fatalf("Export error = %v, want ErrDuplicateFormat", err)
			}
			var dup *DuplicateFormatError
			if !errors.As(err, &dup) {
				t.Fatalf("error %T is not *DuplicateFormatError", err)
			}
		})
	}
}

func TestItemIsImmutable(t *testing.T) {
	formats := []Format{JSONObjectFormat{Value: map[string]any{"a": 1}}}
	it := NewItem(formats)
	formats[0] = HTTPStreamFormat{Close: true}
	if got := it.Formats()[0].Name(); got != "json-object" {
		t.Fatalf("format changed to %q after caller mutation", got)
	}
}
