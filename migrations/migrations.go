// Package migrations embeds the per-service SQL migration sets.
package migrations

import "embed"

//go:embed auditoria/*.sql pedidos/*.sql
var FS embed.FS
