// Package assets embeds the client runtime served to every portal page.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

// ClientFS returns the embedded client files.
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetPortalJS returns the browser runtime script.
func GetPortalJS() ([]byte, error) {
	return clientFS.ReadFile("client/portal.js")
}

// GetPortalCSS returns the portal stylesheet.
func GetPortalCSS() ([]byte, error) {
	return clientFS.ReadFile("client/portal.css")
}
