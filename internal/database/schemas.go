package database

import "embed"

//go:embed schemas/*.sql
var schemaFS embed.FS

// schemaFiles maps database names to their schema files.
// Each database has exactly one schema file as its single source of truth.
var schemaFiles = map[string]string{
	"bullion": "schemas/bullion_schema.sql",
	"cache":   "schemas/cache_schema.sql",
}

// schemaFor returns the embedded schema SQL for a database name.
func schemaFor(name string) (string, bool) {
	file, ok := schemaFiles[name]
	if !ok {
		return "", false
	}

	content, err := schemaFS.ReadFile(file)
	if err != nil {
		return "", false
	}

	return string(content), true
}
