// Package api embeds the HTTP API description.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
