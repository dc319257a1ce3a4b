package web

import (
	"embed"
)

// staticFiles holds the embedded capture page.
//
//go:embed static/*
var staticFiles embed.FS
