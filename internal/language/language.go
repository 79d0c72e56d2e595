// Package language wraps gqlparser for the pieces of GraphQL the HTTP layer
// needs: loading a schema, parsing and validating documents and picking the
// operation to run.
package language

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates SDL sources into a schema.
func LoadSchema(sources ...*ast.Source) (*Schema, error) {
	sch, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// LoadSchemaFiles reads SDL files and loads them as one schema.
func LoadSchemaFiles(paths ...string) (*Schema, error) {
	if len(paths) == 0 {
		return nil, errors.New("no schema files given")
	}
	sources := make([]*ast.Source, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read schema %s", p)
		}
		sources = append(sources, &ast.Source{Name: p, Input: string(b)})
	}
	return LoadSchema(sources...)
}

// Validate checks an already parsed document against sch.
func Validate(sch *Schema, doc *QueryDocument) gqlerror.List {
	return validator.ValidateWithRules(sch, doc, nil)
}

// SelectOperation picks the operation named name, or the only operation of
// doc when name is empty.
func SelectOperation(doc *QueryDocument, name string) (*OperationDefinition, *gqlerror.Error) {
	if name == "" {
		switch len(doc.Operations) {
		case 0:
			return nil, gqlerror.Errorf("document contains no operations")
		case 1:
			return doc.Operations[0], nil
		default:
			return nil, gqlerror.Errorf("must provide operation name if query contains multiple operations")
		}
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, gqlerror.Errorf("unknown operation named %q", name)
}

// FormatSchema prints sch as normalized SDL.
func FormatSchema(sch *Schema) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(sch)
	return buf.String()
}
