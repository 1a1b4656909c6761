// Package appfs exposes the application assets embedded in the binary:
// database migrations, email templates and the common-passwords list.
package appfs

import "embed"

//go:embed migrations templates assets
var FS embed.FS
