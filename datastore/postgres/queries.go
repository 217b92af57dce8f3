package postgres

import (
	"embed"
	"io/fs"
	"path"
	"strings"
)

// Queries is an embedded filesystem containing all the static SQL executed by
// this package.
//
// When queries are added and removed, the [queryMetadata] table must be
// updated to match.
//
//go:embed queries
var queries embed.FS

// QueryMetadata records the table and operation of every file in [queries],
// for span attributes.
var queryMetadata = struct {
	Table map[string]string
	Op    map[string]string
}{
	Table: map[string]string{
		"createevaluation_insert.sql":      "evaluations",
		"createsession_insert.sql":         "user_sessions",
		"createuser_insert.sql":            "users",
		"deleteexpiredsessions_delete.sql": "user_sessions",
		"deletesession_delete.sql":         "user_sessions",
		"sessionuser_select.sql":           "user_sessions",
		"summary_counts.sql":               "evaluations",
		"touchlogin_update.sql":            "users",
		"userbyemail_select.sql":           "users",
	},
	Op: map[string]string{
		"createevaluation_insert.sql":      "INSERT",
		"createsession_insert.sql":         "INSERT",
		"createuser_insert.sql":            "INSERT",
		"deleteexpiredsessions_delete.sql": "DELETE",
		"deletesession_delete.sql":         "DELETE",
		"sessionuser_select.sql":           "SELECT",
		"summary_counts.sql":               "SELECT",
		"touchlogin_update.sql":            "UPDATE",
		"userbyemail_select.sql":           "SELECT",
	},
}

func loadquery(name string) string {
	b, err := fs.ReadFile(queries, path.Join("queries", strings.ToLower(name)))
	if err != nil {
		panic("programmer error: bad query name: " + err.Error())
	}
	return string(b)
}
