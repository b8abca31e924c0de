package webassets

import "embed"

// FS contains the embedded browser auth client.

//go:embed auth-client.js
var FS embed.FS

// Templates contains the server-rendered page templates.

//go:embed templates/*.html
var Templates embed.FS
