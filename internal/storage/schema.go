package storage

import _ "embed"

// Schema creates every table the store uses; safe to apply repeatedly
//
//go:embed schema.sql
var Schema string
