// Package sqlstore persists the claim ledger in a relational database. MySQL,
// PostgreSQL and SQLite are supported through database/sql drivers; queries are
// built with goqu so the same store works for every dialect, and the schema is
// applied from embedded, per-dialect migrations.
package sqlstore
