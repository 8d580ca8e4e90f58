package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/heimdalr/dag"
)

// ExtractReferencesFromAttribute returns the root names an expression
// refers to.
func ExtractReferencesFromAttribute(attr *hcl.Attribute) []string {
	var refs []string

	for _, traversal := range attr.Expr.Variables() {
		if len(traversal) > 0 {
			refs = append(refs, traversal.RootName())
		}
	}

	return refs
}

// SortAttributesByDependencies returns attrs ordered so that every attribute
// comes after the ones it refers to. References to names outside attrs must
// be in known, or they are reported as missing.
func SortAttributesByDependencies(attrs hcl.Attributes, known ...string) ([]*hcl.Attribute, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	external := map[string]bool{"env": true}
	for _, name := range known {
		external[name] = true
	}

	graph := dag.NewDAG()

	// sorted so diagnostics and walk order are stable
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := attrs[name]
		if err := graph.AddVertexByID(name, attr); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Failed to add attribute to dependency graph",
				Detail:   fmt.Sprintf("Error adding attribute %s: %s", name, err),
				Subject:  &attr.NameRange,
			})
		}
	}

	for _, name := range names {
		attr := attrs[name]
		for _, ref := range ExtractReferencesFromAttribute(attr) {
			if _, exists := attrs[ref]; exists {
				if err := graph.AddEdge(ref, name); err != nil {
					diags = diags.Append(&hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Circular dependency detected",
						Detail:   fmt.Sprintf("Cannot add dependency from %s to %s: %s", ref, name, err),
						Subject:  &attr.Range,
					})
				}
			} else if !external[ref] {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Dependency not found",
					Detail:   fmt.Sprintf("Dependency %s of %s not found", ref, name),
					Subject:  &attr.Range,
				})
			}
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}

	visitor := &attributeVertexVisitor{}
	graph.OrderedWalk(visitor)

	return visitor.attrs, diags
}

type attributeVertexVisitor struct {
	attrs []*hcl.Attribute
}

func (v *attributeVertexVisitor) Visit(vertex dag.Vertexer) {
	_, value := vertex.Vertex()
	v.attrs = append(v.attrs, value.(*hcl.Attribute))
}
