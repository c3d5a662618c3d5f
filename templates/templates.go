// Package templates embeds the workspace scaffolding used to
// initialize and reset agent workspaces: the shared _base layer plus
// the root and worker role layers described in internal/workspace.
package templates

import "embed"

//go:embed all:_base all:root all:worker
var FS embed.FS
