package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	Schema              = ast.Schema
	QueryDocument       = ast.QueryDocument
	OperationDefinition = ast.OperationDefinition
)

// Operation types, as found in OperationDefinition.Operation.
const (
	Query        = ast.Query
	Mutation     = ast.Mutation
	Subscription = ast.Subscription
)
