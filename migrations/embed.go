package migrations

import "embed"

// Files exposes embedded SQL migration files ordered lexicographically.
// Remote (Supabase) schema lives under postgres/, the device queue schema
// under sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
