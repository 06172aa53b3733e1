package web

import "embed"

// Assets contains the embedded chat GUI.
//
// Keep this broad enough so web page updates are automatically packaged in
// binaries.
//
//go:embed *.html
var Assets embed.FS
