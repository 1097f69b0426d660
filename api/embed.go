// Package api embeds the GuideVault OpenAPI document.
package api

import _ "embed"

// OpenAPI is served at /api/docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
