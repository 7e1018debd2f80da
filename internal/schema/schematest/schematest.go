// Package schematest provides a small network schema for tests.
package schematest

import (
	"testing"

	"github.com/persistorai/topograph/internal/schema"
)

// NetworkYAML declares regions, sites, routers with interfaces and classes of
// service, and customer premises equipment hanging off sites.
const NetworkYAML = `
elementTypes:
  - cluster:region
  - cluster:site
  - neType:router
  - neType:cpe
  - neType:interface
  - neType:cos
relationships:
  - {kind: parent, from: cluster:site, to: cluster:region, via: region}
  - {kind: parent, from: neType:router, to: cluster:site, via: site}
  - {kind: parent, from: neType:cpe, to: cluster:site, via: site}
  - {kind: parent, from: neType:interface, to: neType:router, via: router, identifying: true}
  - {kind: parent, from: neType:cos, to: neType:interface, via: interface, identifying: true}
  - {kind: link, from: neType:cpe, to: neType:router, name: uplink}
planets:
  - {name: access, attributes: [neType:cpe]}
  - {name: core, attributes: [neType:router, neType:interface, neType:cos]}
  - {name: clusters, attributes: [cluster:region, cluster:site]}
counters:
  - {id: cpeCount, type: count, subType: "neType:cpe"}
  - {id: ifSpeed, type: sum, property: speed}
  - {id: ifUtil, type: ratio, numerator: ifIn, denominator: ifSpeed}
realms:
  - name: inventory
    paths:
      - segment: sites
        template: tpl-site
        attributes: [cluster:site, neType:cpe]
        counters: [cpeCount]
        children:
          - segment: routers
            template: tpl-router
            attributes: [cluster:site, neType:router]
            children:
              - segment: interfaces
                template: tpl-if
                attributes: [cluster:site, neType:interface]
                counters: [ifSpeed, ifUtil]
`

// Network parses NetworkYAML into a fully managed schema.
func Network(t testing.TB) *schema.ManagedSchema {
	t.Helper()

	return MustBuild(t, NetworkYAML)
}

// MustBuild parses doc into a fully managed schema or fails the test.
func MustBuild(t testing.TB, doc string) *schema.ManagedSchema {
	t.Helper()

	raw, err := schema.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing schema: %v", err)
	}

	s, err := schema.FullyManaged(raw)
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}

	return s
}
