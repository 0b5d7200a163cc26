// Package db embeds the PostgreSQL schema applied at startup.
package db

import _ "embed"

// Schema creates the catalog, customer, coupon, order and spin-wheel tables.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
