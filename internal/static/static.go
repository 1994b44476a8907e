// Package static embeds the default configuration files.
package static

import "embed"

//go:embed *.yml
var FS embed.FS
