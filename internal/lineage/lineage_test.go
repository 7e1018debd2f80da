package lineage_test

import (
	"context"
	"io"
	"slices"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/memgraph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/lineage"
	"github.com/persistorai/topograph/internal/loader"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema/schematest"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func tagged(t *testing.T, tx graph.Tx, tag string) graph.Node {
	t.Helper()

	ctx := context.Background()

	n, err := tx.CreateNode(ctx, models.LabelElement)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	if err := n.SetProperty(ctx, models.PropTag, tag); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}

	return n
}

func TestOrdering_MissingSortsFirst(t *testing.T) {
	ctx := context.Background()

	tx, err := memgraph.New().Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const a, b = models.ElementKey("cluster:site"), models.ElementKey("neType:cpe")

	missingA := lineage.Lineage{b: tagged(t, tx, "b=9")}
	lowA := lineage.Lineage{a: tagged(t, tx, "a=1"), b: tagged(t, tx, "b=5")}
	highA := lineage.Lineage{a: tagged(t, tx, "a=2"), b: tagged(t, tx, "b=1")}

	o := lineage.Ordering{a, b}

	set := lineage.NewSet(o)
	for _, l := range []lineage.Lineage{highA, missingA, lowA} {
		if !set.Add(l) {
			t.Fatalf("lineage %v rejected as duplicate", l.Keys())
		}
	}

	got := set.Items()
	want := []lineage.Lineage{missingA, lowA, highA}

	for i := range want {
		if o.Compare(got[i], want[i]) != 0 {
			t.Fatalf("position %d holds the wrong lineage", i)
		}
	}

	if o.Compare(missingA, lowA) >= 0 || o.Compare(lowA, missingA) <= 0 {
		t.Error("a lineage missing the first attribute must sort first")
	}
}

func TestOrdering_BothMissingContinues(t *testing.T) {
	ctx := context.Background()

	tx, err := memgraph.New().Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const a, b, c = models.ElementKey("cluster:region"), models.ElementKey("cluster:site"), models.ElementKey("neType:cpe")

	x := lineage.Lineage{b: tagged(t, tx, "b=2")}
	y := lineage.Lineage{b: tagged(t, tx, "b=1")}
	o := lineage.Ordering{a, b}

	if o.Compare(x, y) <= 0 {
		t.Error("both missing a: b should decide")
	}

	// Keys outside the ordering only break ties.
	shared := tagged(t, tx, "b=1")
	p := lineage.Lineage{b: shared, c: tagged(t, tx, "c=1")}
	q := lineage.Lineage{b: shared, c: tagged(t, tx, "c=2")}
	r := lineage.Lineage{b: shared}

	if o.Compare(p, q) >= 0 {
		t.Error("residual key should order p before q")
	}

	if o.Compare(r, p) >= 0 {
		t.Error("residual missing key should sort first")
	}

	set := lineage.NewSet(o)
	set.Add(p)

	if set.Add(lineage.Lineage{b: shared, c: p[c]}) {
		t.Error("identical lineage should collapse")
	}

	if !set.Add(q) || set.Len() != 2 {
		t.Errorf("distinct lineage should be kept, len = %d", set.Len())
	}
}

func loadTopology(t *testing.T, store graph.Store) {
	t.Helper()

	log := quietLogger()

	batches := []struct {
		tokens []string
		rows   [][]string
	}{
		{[]string{"cluster:site.tag"}, [][]string{{"siteA"}, {"siteB"}}},
		{[]string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.model"}, [][]string{{"cpe1", "siteA", "x100"}, {"cpe2", "siteB", ""}}},
		{[]string{"neType:router.tag", "neType:router.site"}, [][]string{{"r1", "siteA"}}},
		{
			[]string{
				"neType:interface.tag", "neType:interface.router", "neType:interface.speed:NUMBER",
				"neType:interface.enabled:BOOLEAN", "neType:interface.vlans:NUMBER[]",
			},
			[][]string{{"eth0", "r1", "1000", "true", "10;20"}},
		},
	}

	for _, b := range batches {
		loadRows(t, store, log, b.tokens, b.rows)
	}
}

func loadRows(t *testing.T, store graph.Store, log *logrus.Logger, tokens []string, rows [][]string) {
	t.Helper()

	headers, err := header.ParseHeaders(tokens)
	if err != nil {
		t.Fatalf("ParseHeaders(%v): %v", tokens, err)
	}

	ld := loader.New(schematest.Network(t), log)

	err = graph.RunInTx(context.Background(), store, log, func(tx graph.Tx) error {
		res, err := ld.Load(context.Background(), tx, headers, rows, loader.Options{})
		if err != nil {
			return err
		}

		if len(res.ErrorLines) > 0 {
			t.Fatalf("row errors: %v", res.ErrorLines)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func export(t *testing.T, store graph.Store, req lineage.Request) *lineage.Snapshot {
	t.Helper()

	var snap *lineage.Snapshot

	err := graph.RunInReadTx(context.Background(), store, quietLogger(), func(tx graph.Tx) error {
		var err error
		snap, err = lineage.NewExporter(quietLogger()).Export(context.Background(), tx, req)

		return err
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	return snap
}

func TestExport_Snapshot(t *testing.T) {
	store := memgraph.New()
	loadTopology(t, store)

	snap := export(t, store, lineage.Request{Ordering: lineage.Ordering{"cluster:site", "neType:cpe"}})

	wantColumns := []string{
		"cluster:site.tag:STRING",
		"neType:cpe.tag:STRING",
		"neType:cpe.model:STRING",
		"neType:cpe.site:STRING",
		"neType:interface.tag:STRING",
		"neType:interface.enabled:BOOLEAN",
		"neType:interface.router:STRING",
		"neType:interface.speed:NUMBER",
		"neType:interface.vlans:NUMBER[]",
		"neType:router.tag:STRING",
		"neType:router.site:STRING",
	}

	if !slices.Equal(snap.Columns, wantColumns) {
		t.Fatalf("columns:\n got %v\nwant %v", snap.Columns, wantColumns)
	}

	wantRows := [][]string{
		{"siteA", "", "", "", "eth0", "true", "r1", "1000", "10;20", "r1", "siteA"},
		{"siteA", "cpe1", "x100", "siteA", "", "", "", "", "", "", ""},
		{"siteB", "cpe2", "", "siteB", "", "", "", "", "", "", ""},
	}

	if len(snap.Rows) != len(wantRows) {
		t.Fatalf("got %d rows, want %d: %v", len(snap.Rows), len(wantRows), snap.Rows)
	}

	for i := range wantRows {
		if !slices.Equal(snap.Rows[i], wantRows[i]) {
			t.Errorf("row %d:\n got %v\nwant %v", i, snap.Rows[i], wantRows[i])
		}
	}

	if _, err := header.ParseHeaders(snap.Columns); err != nil {
		t.Errorf("columns are not valid header tokens: %v", err)
	}
}

func TestExport_TypeInferenceSkipsAuditAndInternal(t *testing.T) {
	store := memgraph.New()
	loadTopology(t, store)

	snap := export(t, store, lineage.Request{})

	types := snap.Types["neType:interface"]

	want := map[string]string{
		"tag":     "STRING",
		"router":  "STRING",
		"speed":   "NUMBER",
		"enabled": "BOOLEAN",
		"vlans":   "NUMBER[]",
	}

	if len(types) != len(want) {
		t.Errorf("types = %v, want %v", types, want)
	}

	for k, v := range want {
		if types[k] != v {
			t.Errorf("%s: got %q, want %q", k, types[k], v)
		}
	}
}

func TestExport_LeafPredicate(t *testing.T) {
	store := memgraph.New()
	loadTopology(t, store)

	snap := export(t, store, lineage.Request{
		Ordering: lineage.Ordering{"cluster:site"},
		Leaf:     lineage.OfType("neType:router"),
	})

	if len(snap.Lineages) != 1 {
		t.Fatalf("got %d lineages, want 1", len(snap.Lineages))
	}

	if _, ok := snap.Types["neType:interface"]; ok {
		t.Error("interfaces are below the selected leaves and must not be exported")
	}
}

func TestExport_RoundTrip(t *testing.T) {
	store := memgraph.New()
	loadTopology(t, store)

	req := lineage.Request{Ordering: lineage.Ordering{"cluster:site", "neType:cpe"}}
	first := export(t, store, req)

	copyStore := memgraph.New()
	loadRows(t, copyStore, quietLogger(), first.Columns, first.Rows)

	second := export(t, copyStore, req)

	if !slices.Equal(first.Columns, second.Columns) {
		t.Fatalf("columns differ:\n%v\n%v", first.Columns, second.Columns)
	}

	for i := range first.Rows {
		if !slices.Equal(first.Rows[i], second.Rows[i]) {
			t.Errorf("row %d differs:\n%v\n%v", i, first.Rows[i], second.Rows[i])
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{"x", "x"},
		{1000.0, "1000"},
		{0.5, "0.5"},
		{false, "false"},
		{[]any{1.0, 2.5}, "1;2.5"},
		{nil, ""},
	}

	for _, tc := range tests {
		if got := lineage.FormatValue(tc.v); got != tc.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
