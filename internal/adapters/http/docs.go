package http

import (
	"context"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/towermap/api"
)

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>TowerMap API</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
<div id="docs"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
SwaggerUIBundle({url: '/docs/openapi.json', dom_id: '#docs', deepLinking: true});
</script>
</body>
</html>`

// contractJSON renders the embedded contract as JSON once.
var contractJSON = sync.OnceValues(func() ([]byte, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(api.OpenAPI)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	return doc.MarshalJSON()
})

// SetupDocs serves the API contract under /docs: a Swagger UI page, the
// YAML source and a JSON rendering of it.
func SetupDocs(app *fiber.App) {
	docs := app.Group("/docs")

	docs.Get("/", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(docsPage)
	})

	docs.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(api.OpenAPI)
	})

	docs.Get("/openapi.json", func(c *fiber.Ctx) error {
		data, err := contractJSON()
		if err != nil {
			return errInternal(c, "openapi contract: "+err.Error())
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	})
}
