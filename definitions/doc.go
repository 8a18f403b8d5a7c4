// Package definitions embeds the built-in operation table.
package definitions

import "embed"

// FS holds the built-in operation table files.
//
//go:embed *.yaml
var FS embed.FS
