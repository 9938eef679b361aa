package migrations

import "embed"

// Embedded schema files, applied in lexical order at startup.
var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)
