package persistence

import _ "embed"

// SchemaSQL is the DDL the repositories expect. Applying it is left to the
// deployment's migration tool.
//
//go:embed schema/sow-schema.sql
var SchemaSQL string
