package language

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

const sdl = `
type Query { hello(name: String): String }
type Mutation { bump: Int }
`

func loadSchema(t *testing.T) *Schema {
	t.Helper()
	sch, err := LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	require.NoError(t, err)
	return sch
}

func TestParseAndValidate(t *testing.T) {
	sch := loadSchema(t)

	doc, err := ParseQuery(`query A { hello } mutation B { bump }`)
	require.NoError(t, err)
	require.Empty(t, Validate(sch, doc))
	op, gqlErr := SelectOperation(doc, "B")
	require.Nil(t, gqlErr)
	require.Equal(t, Mutation, op.Operation)

	_, gqlErr = SelectOperation(doc, "")
	require.NotNil(t, gqlErr)
	_, gqlErr = SelectOperation(doc, "C")
	require.NotNil(t, gqlErr)

	_, err = ParseQuery(`{ hello `)
	require.Error(t, err)
}

func TestValidateReportsPositionsOfParsedDocument(t *testing.T) {
	sch := loadSchema(t)
	doc, err := ParseQuery("{\n  nope\n}")
	require.NoError(t, err)

	errs := Validate(sch, doc)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, `"nope"`)
	require.Equal(t, 2, errs[0].Locations[0].Line)
}

func TestLoadSchemaFilesAndFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(sdl), 0o600))

	sch, err := LoadSchemaFiles(path)
	require.NoError(t, err)
	out := FormatSchema(sch)
	require.True(t, strings.Contains(out, "type Query"), out)
	require.True(t, strings.Contains(out, "bump: Int"), out)

	_, err = LoadSchemaFiles(filepath.Join(dir, "missing.graphql"))
	require.Error(t, err)
	_, err = LoadSchemaFiles()
	require.Error(t, err)
}

func TestLoadSchemaRejectsInvalidSDL(t *testing.T) {
	_, err := LoadSchema(&ast.Source{Input: `type Query { a: Missing }`})
	require.Error(t, err)
}
