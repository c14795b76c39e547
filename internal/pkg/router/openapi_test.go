package router

import (
	"regexp"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pathParamPattern = regexp.MustCompile(`:([a-zA-Z0-9_]+)`)

// TestOpenAPIDocumentMatchesRoutes loads the served API document, validates
// it and checks that every registered route is described in it. A new
// endpoint without documentation fails here.
func TestOpenAPIDocumentMatchesRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))

	app := fiber.New()
	InstallRouter(app)

	for _, rt := range app.GetRoutes(true) {
		if rt.Method == fiber.MethodHead {
			continue
		}
		specPath := pathParamPattern.ReplaceAllString(rt.Path, "{$1}")
		item := doc.Paths.Find(specPath)
		if assert.NotNilf(t, item, "route %s %s is missing from openapi.yml", rt.Method, rt.Path) {
			assert.NotNilf(t, item.GetOperation(rt.Method), "operation %s %s is missing from openapi.yml", rt.Method, rt.Path)
		}
	}
}
