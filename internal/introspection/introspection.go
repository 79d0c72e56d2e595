// Package introspection gates access to the __schema and __type meta fields.
package introspection

import (
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Predicate reports whether introspection is allowed for a request.
type Predicate func(r *http.Request) bool

// Disabled rejects introspection for every request.
func Disabled(*http.Request) bool { return false }

// Enabled allows introspection for every request.
func Enabled(*http.Request) bool { return true }

// Fields are the meta fields that expose the schema.
var Fields = map[string]bool{
	"__schema": true,
	"__type":   true,
}

// Check returns one error per introspection field selected by op, including
// fields reached through fragment spreads and inline fragments.
func Check(doc *ast.QueryDocument, op *ast.OperationDefinition) gqlerror.List {
	w := walker{doc: doc, visited: map[string]bool{}}
	w.selectionSet(op.SelectionSet)
	return w.errs
}

type walker struct {
	doc     *ast.QueryDocument
	visited map[string]bool
	errs    gqlerror.List
}

func (w *walker) selectionSet(set ast.SelectionSet) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if Fields[s.Name] {
				w.errs = append(w.errs, gqlerror.ErrorPosf(s.Position,
					"GraphQL introspection has been disabled, but the requested query contained the field %q.", s.Name))
				continue
			}
			w.selectionSet(s.SelectionSet)
		case *ast.InlineFragment:
			w.selectionSet(s.SelectionSet)
		case *ast.FragmentSpread:
			if w.visited[s.Name] {
				continue
			}
			w.visited[s.Name] = true
			def := s.Definition
			if def == nil {
				def = w.doc.Fragments.ForName(s.Name)
			}
			if def != nil {
				w.selectionSet(def.SelectionSet)
			}
		}
	}
}
