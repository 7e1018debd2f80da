package header_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/models"
)

func TestParse_Simple(t *testing.T) {
	h, err := header.Parse(3, "neType:interface.id:NUMBER[]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	simple, ok := h.(header.SimpleElementHeader)
	if !ok {
		t.Fatalf("got %T, want SimpleElementHeader", h)
	}

	if simple.Element != "neType:interface" || simple.Property != "id" {
		t.Errorf("element/property = %s/%s", simple.Element, simple.Property)
	}

	if simple.Type != models.TypeNumber || !simple.Array {
		t.Errorf("type = %v array = %v, want NUMBER[]", simple.Type, simple.Array)
	}

	if simple.Index() != 3 {
		t.Errorf("Index() = %d, want 3", simple.Index())
	}

	if got := simple.String(); got != "neType:interface.id:NUMBER[]" {
		t.Errorf("String() = %q", got)
	}
}

func TestParse_Multi(t *testing.T) {
	h, err := header.Parse(0, "(neType:interface|neType:cos).id:NUMBER")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	multi, ok := h.(header.MultiElementHeader)
	if !ok {
		t.Fatalf("got %T, want MultiElementHeader", h)
	}

	if got := multi.SourceElement(); got != "neType:interface" {
		t.Errorf("SourceElement() = %s", got)
	}

	if got := multi.TargetElementName(); got != "neType:cos" {
		t.Errorf("TargetElementName() = %s", got)
	}

	if multi.Type != models.TypeNumber || multi.Array {
		t.Errorf("type = %v array = %v, want NUMBER", multi.Type, multi.Array)
	}

	if got := multi.String(); got != "(neType:interface|neType:cos).id:NUMBER" {
		t.Errorf("String() = %q", got)
	}
}

func TestParse_DefaultsToString(t *testing.T) {
	h, err := header.Parse(1, " cluster:site.name ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := h.Spec(), (header.Field{Property: "name", Type: models.TypeString}); !reflect.DeepEqual(got, want) {
		t.Errorf("Spec() = %+v, want %+v", got, want)
	}

	if got := h.String(); got != "cluster:site.name:STRING" {
		t.Errorf("String() = %q", got)
	}

	h, err = header.Parse(2, "neType:cpe.aliases[]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := h.Spec().TypeName(); got != "STRING[]" {
		t.Errorf("TypeName() = %q, want STRING[]", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no property", token: "neType:cpe"},
		{name: "empty property", token: "neType:cpe.:NUMBER"},
		{name: "unknown type", token: "neType:cpe.id:INTEGER"},
		{name: "lower case type", token: "neType:cpe.id:number"},
		{name: "bad category", token: "shelf:x.id"},
		{name: "missing category", token: "cpe.id"},
		{name: "single element group", token: "(neType:cpe).id"},
		{name: "unclosed group", token: "(neType:cpe|neType:router.id"},
		{name: "group without dot", token: "(neType:cpe|neType:router)id"},
		{name: "repeated group member", token: "(neType:cpe|neType:cpe).id"},
		{name: "bad group member", token: "(neType:cpe|router).id"},
		{name: "array marker misplaced", token: "neType:cpe.id[]:NUMBER"},
		{name: "space in property", token: "neType:cpe.admin state"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := header.Parse(4, tc.token)
			if !errors.Is(err, models.ErrHeaderParse) {
				t.Fatalf("error = %v, want ErrHeaderParse", err)
			}

			var perr *models.HeaderParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %T is not a HeaderParseError", err)
			}

			if perr.Column != 4 || perr.Token != tc.token {
				t.Errorf("column/token = %d/%q, want 4/%q", perr.Column, perr.Token, tc.token)
			}
		})
	}
}

func TestParseHeaders(t *testing.T) {
	headers, err := header.ParseHeaders([]string{
		"cluster:site.tag",
		"neType:router.tag",
		"neType:router.site",
		"(neType:router|neType:interface).vendor",
	})
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}

	if len(headers) != 4 {
		t.Fatalf("got %d headers, want 4", len(headers))
	}

	for i, h := range headers {
		if h.Index() != i {
			t.Errorf("headers[%d].Index() = %d", i, h.Index())
		}
	}

	if _, ok := headers[3].(header.MultiElementHeader); !ok {
		t.Errorf("headers[3] is %T, want MultiElementHeader", headers[3])
	}
}

func TestParseHeaders_FailFast(t *testing.T) {
	_, err := header.ParseHeaders([]string{"neType:router.tag", "bogus", "also bogus"})

	var perr *models.HeaderParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want a HeaderParseError", err)
	}

	if perr.Column != 1 {
		t.Errorf("Column = %d, want 1", perr.Column)
	}
}

func TestParseHeaders_DuplicateColumn(t *testing.T) {
	_, err := header.ParseHeaders([]string{
		"neType:router.vendor",
		"(neType:interface|neType:router).vendor",
	})
	if err == nil || !strings.Contains(err.Error(), "already set by column 0") {
		t.Fatalf("error = %v, want duplicate column error", err)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		field   header.Field
		raw     string
		want    any
		present bool
		wantErr bool
	}{
		{name: "string", field: header.Field{Type: models.TypeString}, raw: " r1 ", want: " r1 ", present: true},
		{name: "number", field: header.Field{Type: models.TypeNumber}, raw: "10.5", want: 10.5, present: true},
		{name: "integer number", field: header.Field{Type: models.TypeNumber}, raw: "42", want: 42.0, present: true},
		{name: "boolean", field: header.Field{Type: models.TypeBoolean}, raw: "true", want: true, present: true},
		{name: "empty", field: header.Field{Type: models.TypeNumber}, raw: "", present: false},
		{name: "blank", field: header.Field{Type: models.TypeString}, raw: "  ", present: false},
		{
			name:    "number array",
			field:   header.Field{Type: models.TypeNumber, Array: true},
			raw:     "1;2; 3",
			want:    []any{1.0, 2.0, 3.0},
			present: true,
		},
		{
			name:    "string array",
			field:   header.Field{Type: models.TypeString, Array: true},
			raw:     "a;b",
			want:    []any{"a", "b"},
			present: true,
		},
		{name: "bad number", field: header.Field{Type: models.TypeNumber}, raw: "ten", wantErr: true},
		{name: "not a number", field: header.Field{Type: models.TypeNumber}, raw: "NaN", wantErr: true},
		{name: "infinite number", field: header.Field{Type: models.TypeNumber}, raw: "+Inf", wantErr: true},
		{name: "infinite array item", field: header.Field{Type: models.TypeNumber, Array: true}, raw: "1;-Inf", wantErr: true},
		{name: "bad boolean", field: header.Field{Type: models.TypeBoolean}, raw: "maybe", wantErr: true},
		{name: "bad array item", field: header.Field{Type: models.TypeNumber, Array: true}, raw: "1;x", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, present, err := tc.field.Convert(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Convert(%q) = %v, want error", tc.raw, got)
				}

				return
			}

			if err != nil {
				t.Fatalf("Convert(%q): %v", tc.raw, err)
			}

			if present != tc.present {
				t.Errorf("present = %v, want %v", present, tc.present)
			}

			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Convert(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}
