package models_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/persistorai/topograph/internal/models"
)

func assertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func assertErrorContains(t *testing.T, err error, want string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error containing %q, got nil", want)
	}

	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected error containing %q, got %q", want, err.Error())
	}
}

func TestElementKey_Validate(t *testing.T) {
	tests := []struct {
		key     string
		wantErr string
	}{
		{key: "neType:cpe"},
		{key: "cluster:site"},
		{key: "neType", wantErr: "want category:name"},
		{key: "neType:", wantErr: "want category:name"},
		{key: ":cpe", wantErr: "want category:name"},
		{key: "shelf:x", wantErr: "unknown category"},
		{key: "neType:a.b", wantErr: "invalid character"},
		{key: "neType:a|b", wantErr: "invalid character"},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			_, err := models.ParseElementKey(tc.key)
			if tc.wantErr != "" {
				assertErrorContains(t, err, tc.wantErr)
				return
			}
			assertNoError(t, err)
		})
	}
}

func TestElementKey_Parts(t *testing.T) {
	k := models.ElementKey("neType:interface")

	if k.Category() != "neType" || k.Name() != "interface" {
		t.Errorf("got category %q name %q", k.Category(), k.Name())
	}

	if !k.IsNetworkElement() || k.IsCluster() {
		t.Errorf("expected %s to be a network element", k)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "nil", v: nil, want: "STRING"},
		{name: "string", v: "x", want: "STRING"},
		{name: "float", v: 1.5, want: "NUMBER"},
		{name: "int64", v: int64(3), want: "NUMBER"},
		{name: "json number", v: json.Number("12"), want: "NUMBER"},
		{name: "bool", v: true, want: "BOOLEAN"},
		{name: "number array", v: []any{1.0, 2.0}, want: "NUMBER[]"},
		{name: "typed bool array", v: []bool{true}, want: "BOOLEAN[]"},
		{name: "empty array", v: []any{}, want: "STRING[]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := models.InferType(tc.v); got != tc.want {
				t.Errorf("InferType(%v) = %q, want %q", tc.v, got, tc.want)
			}
		})
	}
}

func TestParseValueType(t *testing.T) {
	for _, name := range []string{"STRING", "NUMBER", "BOOLEAN"} {
		vt, err := models.ParseValueType(name)
		assertNoError(t, err)

		if vt.String() != name {
			t.Errorf("round trip %q gave %q", name, vt.String())
		}
	}

	_, err := models.ParseValueType("number")
	assertErrorContains(t, err, "unknown value type")
}

func TestSortProperties(t *testing.T) {
	names := []string{"speed", "name", "admin", "id", "tag", "vlan"}
	models.SortProperties(names)

	want := "tag,id,name,admin,speed,vlan"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNewTag_OrdersByRank(t *testing.T) {
	rank := map[string]int{"neType:router": 0, "neType:interface": 1}

	tag := models.NewTag(map[string]string{
		"neType:interface": "eth0",
		"neType:router":    "r1",
		"zz":               "last",
		"aa":               "unranked",
	}, rank)

	want := "neType:router=r1,neType:interface=eth0,aa=unranked,zz=last"
	if got := tag.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	parsed, err := models.ParseTag(tag.String())
	assertNoError(t, err)

	if v, ok := parsed.Get("neType:interface"); !ok || v != "eth0" {
		t.Errorf("Get(neType:interface) = %q, %v", v, ok)
	}
}

func TestParseTag_Malformed(t *testing.T) {
	_, err := models.ParseTag("")
	assertErrorContains(t, err, "empty tag")

	_, err = models.ParseTag("a=1,b")
	assertErrorContains(t, err, "malformed pair")
}

func TestValidTagValue(t *testing.T) {
	for v, want := range map[string]bool{"siteA": true, "": false, "a,b": false, "a=b": false} {
		if got := models.ValidTagValue(v); got != want {
			t.Errorf("ValidTagValue(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestIsExportedProperty(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"speed", true},
		{models.PropTag, true},
		{models.PropCreatedAt, false},
		{models.PropUpdatedBy, false},
		{models.PropElementType, false},
		{models.InternalPrefix + "x", false},
	}

	for _, tc := range tests {
		if got := models.IsExportedProperty(tc.name); got != tc.want {
			t.Errorf("IsExportedProperty(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{models.NewSchemaTemplateError("p", "bad"), models.ErrSchemaTemplate},
		{&models.HeaderParseError{Column: 1, Token: "x", Reason: "bad"}, models.ErrHeaderParse},
		{models.NewRowLoadError(3, "bad %d", 1), models.ErrRowLoad},
		{&models.ScopeResolutionError{ElementType: "neType:a"}, models.ErrScopeResolution},
		{&models.CounterManagementError{CounterID: "c"}, models.ErrCounterManagement},
		{models.CycleError([]string{"neType:a", "neType:b"}), models.ErrSchemaTemplate},
	}

	for _, tc := range tests {
		wrapped := errors.Join(errors.New("context"), tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Errorf("%v does not match %v", tc.err, tc.sentinel)
		}
	}

	var rowErr *models.RowLoadError
	if !errors.As(models.NewRowLoadError(7, "x"), &rowErr) || rowErr.Line != 7 {
		t.Errorf("expected RowLoadError on line 7, got %+v", rowErr)
	}
}
