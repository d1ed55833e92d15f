// Package api holds the HTTP contract of the towermap service.
package api

import _ "embed"

// OpenAPI is the OpenAPI 3 document for the REST surface.
//
//go:embed openapi.yaml
var OpenAPI []byte
