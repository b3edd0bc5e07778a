// Package query is the read API over the crew record tables.
//
// Tables, filterable fields, and comparison operators are whitelisted;
// nothing from the request reaches the SQL text except through the
// whitelist and positional parameters. Soft-deleted rows are excluded
// by default and only an admin may ask for them. Pagination sorts by
// creation time with an id tiebreak, which stays stable under the
// append-only write pattern of bulk uploads.
package query
