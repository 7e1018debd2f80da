package loader_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/memgraph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/loader"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema"
	"github.com/persistorai/topograph/internal/schema/schematest"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

type fixture struct {
	t      *testing.T
	store  *memgraph.Store
	schema *schema.ManagedSchema
	log    *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return &fixture{t: t, store: memgraph.New(), schema: schematest.Network(t), log: quietLogger()}
}

func (f *fixture) load(tokens []string, rows [][]string, opts loader.Options) (*loader.LoadResult, error) {
	f.t.Helper()

	headers, err := header.ParseHeaders(tokens)
	if err != nil {
		f.t.Fatalf("ParseHeaders: %v", err)
	}

	var result *loader.LoadResult

	err = graph.RunInTx(context.Background(), f.store, f.log, func(tx graph.Tx) error {
		var loadErr error
		result, loadErr = loader.New(f.schema, f.log).Load(context.Background(), tx, headers, rows, opts)

		return loadErr
	})

	return result, err
}

func (f *fixture) mustLoad(tokens []string, rows [][]string, opts loader.Options) *loader.LoadResult {
	f.t.Helper()

	result, err := f.load(tokens, rows, opts)
	if err != nil {
		f.t.Fatalf("Load: %v", err)
	}

	return result
}

// read runs fn in a read transaction.
func (f *fixture) read(fn func(ctx context.Context, tx graph.Tx)) {
	f.t.Helper()

	err := graph.RunInReadTx(context.Background(), f.store, f.log, func(tx graph.Tx) error {
		fn(context.Background(), tx)
		return nil
	})
	if err != nil {
		f.t.Fatalf("read: %v", err)
	}
}

func (f *fixture) element(ctx context.Context, tx graph.Tx, tag string) graph.Node {
	f.t.Helper()

	n, err := tx.FindNode(ctx, models.LabelElement, models.PropTag, tag)
	if err != nil {
		f.t.Fatalf("FindNode(%s): %v", tag, err)
	}

	return n
}

func (f *fixture) targets(ctx context.Context, n graph.Node, relType string) []string {
	f.t.Helper()

	rels, err := n.Relationships(ctx, relType, graph.Outgoing)
	if err != nil {
		f.t.Fatalf("Relationships: %v", err)
	}

	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, graph.StringProperty(r.End(), models.PropTag))
	}

	return out
}

func (f *fixture) loadSites(sites ...string) {
	f.t.Helper()

	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		rows = append(rows, []string{s})
	}

	f.mustLoad([]string{"cluster:site.tag"}, rows, loader.Options{})
}

func TestDeletionOrder(t *testing.T) {
	s := schematest.Network(t)

	tests := []struct {
		name string
		keys []models.ElementKey
		want []models.ElementKey
	}{
		{
			name: "referencing types first",
			keys: []models.ElementKey{"cluster:site", "neType:cpe", "cluster:region"},
			want: []models.ElementKey{"neType:cpe", "cluster:site", "cluster:region"},
		},
		{
			name: "unrelated types keep input order",
			keys: []models.ElementKey{"neType:cos", "neType:cpe"},
			want: []models.ElementKey{"neType:cos", "neType:cpe"},
		},
		{
			name: "transitive through missing interface",
			keys: []models.ElementKey{"neType:router", "neType:cos"},
			want: []models.ElementKey{"neType:cos", "neType:router"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := loader.DeletionOrder(s, tc.keys)
			if err != nil {
				t.Fatalf("DeletionOrder: %v", err)
			}

			if !equalKeys(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}

			ins, err := loader.InsertionOrder(s, tc.keys)
			if err != nil {
				t.Fatalf("InsertionOrder: %v", err)
			}

			for i := range ins {
				if ins[i] != got[len(got)-1-i] {
					t.Fatalf("insertion order %v is not the reverse of %v", ins, got)
				}
			}
		})
	}
}

func TestDeletionOrder_RespectsEveryRelationship(t *testing.T) {
	s := schematest.Network(t)

	order, err := loader.DeletionOrder(s, s.ElementTypes())
	if err != nil {
		t.Fatalf("DeletionOrder: %v", err)
	}

	index := make(map[models.ElementKey]int)
	for i, k := range order {
		index[k] = i
	}

	for _, r := range s.Relationships() {
		if index[r.From()] >= index[r.To()] {
			t.Errorf("%s (index %d) must be deleted before %s (index %d)", r.From(), index[r.From()], r.To(), index[r.To()])
		}
	}
}

func equalKeys(a, b []models.ElementKey) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func TestLoad_ScopeChangeMovesPlanet(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA", "siteB")

	cpeHeader := []string{"neType:cpe.tag", "neType:cpe.site"}

	res := f.mustLoad(cpeHeader, [][]string{{"cpeA", "siteA"}}, loader.Options{Actor: "test"})
	if res.ImportedElementsByScope["siteA"] != 1 {
		t.Fatalf("expected one element imported into siteA, got %v", res.ImportedElementsByScope)
	}

	res = f.mustLoad(cpeHeader, [][]string{{"cpeA", "siteB"}}, loader.Options{Actor: "test"})
	if res.ImportedElementsByScope["siteB"] != 1 || len(res.ErrorLines) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	f.read(func(ctx context.Context, tx graph.Tx) {
		cpe := f.element(ctx, tx, "neType:cpe=cpeA")

		planets := f.targets(ctx, cpe, models.RelPlanet)
		if len(planets) != 1 || planets[0] != "planet=access,scope=siteB" {
			t.Errorf("planet relationships = %v, want exactly the siteB access planet", planets)
		}

		parents := f.targets(ctx, cpe, models.RelParent)
		if len(parents) != 1 || parents[0] != "cluster:site=siteB" {
			t.Errorf("parents = %v, want [cluster:site=siteB]", parents)
		}

		if _, err := tx.FindNode(ctx, models.LabelPlanet, models.PropTag, "planet=access,scope=siteA"); !graph.IsNotFound(err) {
			t.Errorf("siteA access planet should be gone, got err=%v", err)
		}

		if got := graph.StringProperty(cpe, models.PropScope); got != "siteB" {
			t.Errorf("scope = %q, want siteB", got)
		}
	})
}

func TestLoad_AuditProperties(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")

	f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.model"},
		[][]string{{"cpeA", "siteA", "x100"}}, loader.Options{Actor: "alice"})
	f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.model"},
		[][]string{{"cpeA", "x200"}}, loader.Options{Actor: "bob"})

	f.read(func(ctx context.Context, tx graph.Tx) {
		cpe := f.element(ctx, tx, "neType:cpe=cpeA")

		want := map[string]string{
			models.PropCreatedBy:   "alice",
			models.PropUpdatedBy:   "bob",
			"model":                "x200",
			models.PropElementType: "neType:cpe",
			models.PropScope:       "siteA",
		}

		for k, v := range want {
			if got := graph.StringProperty(cpe, k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}

		if graph.StringProperty(cpe, models.PropCreatedAt) == "" || graph.StringProperty(cpe, models.PropUpdatedAt) == "" {
			t.Error("timestamps not set")
		}

		if !cpe.HasLabel(models.LabelElement) || !cpe.HasLabel("neType:cpe") {
			t.Errorf("labels = %v", cpe.Labels())
		}
	})
}

func TestLoad_RowErrors(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		row    []string
		reason string
	}{
		{
			name:   "missing referenced parent",
			tokens: []string{"neType:cpe.tag", "neType:cpe.site"},
			row:    []string{"cpeA", "siteZ"},
			reason: `references cluster:site "siteZ" which does not exist`,
		},
		{
			name:   "number conversion",
			tokens: []string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.speed:NUMBER"},
			row:    []string{"cpeA", "siteA", "fast"},
			reason: "is not a NUMBER",
		},
		{
			name:   "non-finite number",
			tokens: []string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.speed:NUMBER"},
			row:    []string{"cpeA", "siteA", "NaN"},
			reason: "is not a NUMBER",
		},
		{
			name:   "missing identifying parent",
			tokens: []string{"neType:interface.tag"},
			row:    []string{"eth0"},
			reason: "needs its identifying parent neType:router",
		},
		{
			name:   "values without identity",
			tokens: []string{"neType:cpe.tag", "neType:cpe.model"},
			row:    []string{"", "x100"},
			reason: "has no neType:cpe.tag",
		},
		{
			name:   "no scope",
			tokens: []string{"neType:cpe.tag"},
			row:    []string{"cpeA"},
			reason: "no cluster ancestor",
		},
		{
			name:   "invalid identity",
			tokens: []string{"cluster:site.tag"},
			row:    []string{"a=b"},
			reason: "invalid identity",
		},
		{
			name:   "too many cells",
			tokens: []string{"cluster:site.tag"},
			row:    []string{"siteC", "extra"},
			reason: "row has 2 cells",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.loadSites("siteA")

			nodesBefore, relsBefore := f.store.Stats()

			res := f.mustLoad(tc.tokens, [][]string{tc.row}, loader.Options{})

			reason, ok := res.ErrorLines[loader.FirstDataLine]
			if !ok {
				t.Fatalf("expected an error on line %d, got %+v", loader.FirstDataLine, res)
			}

			if !strings.Contains(reason, tc.reason) {
				t.Errorf("reason %q does not contain %q", reason, tc.reason)
			}

			nodes, rels := f.store.Stats()
			if nodes != nodesBefore || rels != relsBefore {
				t.Errorf("failed row wrote to the graph: nodes %d->%d rels %d->%d", nodesBefore, nodes, relsBefore, rels)
			}
		})
	}
}

func TestLoad_FailedRowDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")

	res := f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.site"}, [][]string{
		{"cpeA", "siteZ"},
		{"cpeB", "siteA"},
	}, loader.Options{})

	if len(res.ErrorLines) != 1 || res.ErrorLines[2] == "" {
		t.Errorf("ErrorLines = %v, want line 2 only", res.ErrorLines)
	}

	if res.Imported() != 1 {
		t.Errorf("Imported = %d, want 1", res.Imported())
	}
}

func TestLoad_AbortOnErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")

	nodesBefore, _ := f.store.Stats()

	_, err := f.load([]string{"neType:cpe.tag", "neType:cpe.site"}, [][]string{
		{"cpeB", "siteA"},
		{"cpeA", "siteZ"},
	}, loader.Options{AbortOnError: true})

	if !errors.Is(err, models.ErrRowLoad) {
		t.Fatalf("expected a row load error, got %v", err)
	}

	var rowErr *models.RowLoadError
	if errors.As(err, &rowErr) && rowErr.Line != 3 {
		t.Errorf("line = %d, want 3", rowErr.Line)
	}

	if nodes, _ := f.store.Stats(); nodes != nodesBefore {
		t.Errorf("rollback left %d nodes, want %d", nodes, nodesBefore)
	}
}

func TestLoad_HeaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
	}{
		{name: "undeclared type", tokens: []string{"neType:switch.tag"}},
		{name: "no tag column", tokens: []string{"neType:cpe.model"}},
		{name: "multi without source tag", tokens: []string{"neType:router.tag", "(neType:interface|neType:router).vendor"}},
		{name: "multi tag", tokens: []string{"neType:cpe.tag", "(neType:router|neType:cos).tag"}},
		{name: "audit property", tokens: []string{"neType:cpe.tag", "neType:cpe.createdBy"}},
		{name: "internal property", tokens: []string{"neType:cpe.tag", "neType:cpe._scope"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.load(tc.tokens, nil, loader.Options{})
			if !errors.Is(err, models.ErrHeaderParse) {
				t.Errorf("expected header parse error, got %v", err)
			}
		})
	}
}

func TestLoad_IdentifyingParentsAndCascade(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA", "siteB")

	f.mustLoad([]string{"neType:router.tag", "neType:router.site"}, [][]string{{"r1", "siteA"}}, loader.Options{})
	f.mustLoad([]string{"neType:interface.tag", "neType:interface.router", "neType:interface.speed:NUMBER"},
		[][]string{{"eth0", "r1", "1000"}}, loader.Options{})

	f.read(func(ctx context.Context, tx graph.Tx) {
		iface := f.element(ctx, tx, "neType:router=r1,neType:interface=eth0")

		if v, _ := iface.Property("speed"); v != 1000.0 {
			t.Errorf("speed = %v, want 1000", v)
		}

		if got := graph.StringProperty(iface, models.PropScope); got != "siteA" {
			t.Errorf("interface scope = %q, want siteA", got)
		}
	})

	// Moving the router carries the interface along.
	f.mustLoad([]string{"neType:router.tag", "neType:router.site"}, [][]string{{"r1", "siteB"}}, loader.Options{})

	f.read(func(ctx context.Context, tx graph.Tx) {
		iface := f.element(ctx, tx, "neType:router=r1,neType:interface=eth0")

		if got := f.targets(ctx, iface, models.RelPlanet); len(got) != 1 || got[0] != "planet=core,scope=siteB" {
			t.Errorf("interface planets = %v", got)
		}

		if _, err := tx.FindNode(ctx, models.LabelPlanet, models.PropTag, "planet=core,scope=siteA"); !graph.IsNotFound(err) {
			t.Errorf("siteA core planet should be gone, got err=%v", err)
		}
	})
}

func TestLoad_MultiElementColumn(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")

	tokens := []string{
		"neType:router.tag",
		"neType:router.site",
		"neType:interface.tag",
		"(neType:interface|neType:router).vendor",
	}

	res := f.mustLoad(tokens, [][]string{
		{"r1", "siteA", "eth0", "acme"},
		{"r2", "siteA", "", "acme"},
	}, loader.Options{})

	if reason := res.ErrorLines[3]; !strings.Contains(reason, "source element neType:interface is not in the row") {
		t.Errorf("line 3 reason = %q", reason)
	}

	f.read(func(ctx context.Context, tx graph.Tx) {
		for _, tag := range []string{"neType:router=r1", "neType:router=r1,neType:interface=eth0"} {
			if got := graph.StringProperty(f.element(ctx, tx, tag), "vendor"); got != "acme" {
				t.Errorf("%s vendor = %q, want acme", tag, got)
			}
		}

		iface := f.element(ctx, tx, "neType:router=r1,neType:interface=eth0")
		if got := f.targets(ctx, iface, models.RelParent); len(got) != 1 || got[0] != "neType:router=r1" {
			t.Errorf("interface parents = %v", got)
		}
	})
}

func TestLoad_LinksAndArrays(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")

	f.mustLoad([]string{"neType:router.tag", "neType:router.site"}, [][]string{{"r1", "siteA"}, {"r2", "siteA"}}, loader.Options{})

	tokens := []string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.uplink", "neType:cpe.vlans:NUMBER[]"}
	f.mustLoad(tokens, [][]string{{"cpeA", "siteA", "r1", "10;20"}}, loader.Options{})
	f.mustLoad(tokens, [][]string{{"cpeA", "siteA", "r2", ""}}, loader.Options{})

	f.read(func(ctx context.Context, tx graph.Tx) {
		cpe := f.element(ctx, tx, "neType:cpe=cpeA")

		if got := f.targets(ctx, cpe, "UPLINK"); len(got) != 1 || got[0] != "neType:router=r2" {
			t.Errorf("uplinks = %v, want [neType:router=r2]", got)
		}

		v, _ := cpe.Property("vlans")

		vlans, ok := v.([]any)
		if !ok || len(vlans) != 2 || vlans[0] != 10.0 || vlans[1] != 20.0 {
			t.Errorf("vlans = %#v, empty cell must keep the previous value", v)
		}
	})
}

func TestLoad_DeleteBlockedByLink(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")
	f.mustLoad([]string{"neType:router.tag", "neType:router.site"}, [][]string{{"r1", "siteA"}, {"r2", "siteA"}}, loader.Options{})
	f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.site", "neType:cpe.uplink"}, [][]string{{"cpeA", "siteA", "r2"}}, loader.Options{})

	res := f.mustLoad([]string{"neType:router.tag"}, [][]string{{"r1"}, {"r2"}}, loader.Options{Delete: true})
	if res.Deleted != 1 || !strings.Contains(res.ErrorLines[3], "still referenced by neType:cpe=cpeA") {
		t.Fatalf("unexpected result %+v", res)
	}

	f.read(func(ctx context.Context, tx graph.Tx) {
		cpe := f.element(ctx, tx, "neType:cpe=cpeA")
		if got := f.targets(ctx, cpe, "UPLINK"); len(got) != 1 || got[0] != "neType:router=r2" {
			t.Errorf("uplinks = %v, want [neType:router=r2]", got)
		}
	})

	// With the linking cpe in the batch, both go.
	res = f.mustLoad([]string{"neType:router.tag", "neType:cpe.tag"}, [][]string{{"r2", ""}, {"", "cpeA"}}, loader.Options{Delete: true})
	if res.Deleted != 2 || len(res.ErrorLines) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLoad_DefaultScope(t *testing.T) {
	f := newFixture(t)

	res := f.mustLoad([]string{"neType:cpe.tag"}, [][]string{{"cpeA"}},
		loader.Options{DefaultScope: schema.Scope{Tag: "unassigned"}})

	if res.ImportedElementsByScope["unassigned"] != 1 {
		t.Errorf("ImportedElementsByScope = %v", res.ImportedElementsByScope)
	}
}

func TestLoad_DeleteMode(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")
	f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.site"}, [][]string{{"cpeA", "siteA"}}, loader.Options{})

	// The site still has a cpe.
	res := f.mustLoad([]string{"cluster:site.tag"}, [][]string{{"siteA"}}, loader.Options{Delete: true})
	if res.Deleted != 0 || !strings.Contains(res.ErrorLines[2], "still referenced by neType:cpe=cpeA") {
		t.Fatalf("unexpected result %+v", res)
	}

	// Unknown elements fail their row.
	res = f.mustLoad([]string{"neType:cpe.tag"}, [][]string{{"cpeZ"}}, loader.Options{Delete: true})
	if !strings.Contains(res.ErrorLines[2], "does not exist") {
		t.Fatalf("unexpected result %+v", res)
	}

	// Deleting both in one batch works across rows: the cpe goes first.
	res = f.mustLoad([]string{"cluster:site.tag", "neType:cpe.tag"}, [][]string{
		{"siteA", ""},
		{"", "cpeA"},
	}, loader.Options{Delete: true})

	if res.Deleted != 2 || len(res.ErrorLines) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	if nodes, rels := f.store.Stats(); nodes != 0 || rels != 0 {
		t.Errorf("graph not empty after delete: %d nodes, %d relationships", nodes, rels)
	}
}

func TestLoad_DeleteCascadesRowFailures(t *testing.T) {
	f := newFixture(t)
	f.loadSites("siteA")
	f.mustLoad([]string{"neType:cpe.tag", "neType:cpe.site"}, [][]string{{"cpeA", "siteA"}, {"cpeB", "siteA"}}, loader.Options{})

	// cpeB is missing from the batch, so siteA stays; cpeA goes.
	res := f.mustLoad([]string{"cluster:site.tag", "neType:cpe.tag"}, [][]string{
		{"siteA", ""},
		{"", "cpeA"},
	}, loader.Options{Delete: true})

	if res.Deleted != 1 || !strings.Contains(res.ErrorLines[2], "cpeB") {
		t.Fatalf("unexpected result %+v", res)
	}

	f.read(func(ctx context.Context, tx graph.Tx) {
		if _, err := tx.FindNode(ctx, models.LabelElement, models.PropTag, "neType:cpe=cpeA"); !graph.IsNotFound(err) {
			t.Errorf("cpeA should be deleted, got %v", err)
		}

		f.element(ctx, tx, "cluster:site=siteA")
	})
}
