//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is a minimal OpenAPI document for the artifact endpoints.
const docTemplate = `{
  "swagger": "2.0",
  "info": {"title": "artifactd API", "version": "1.0", "description": "Artifact download, validation and lifecycle management."},
  "basePath": "/",
  "paths": {
    "/artifacts": {"get": {"summary": "List catalog artifacts", "responses": {"200": {"description": "OK"}}}},
    "/status": {"get": {"summary": "Loaded artifacts and memory state", "responses": {"200": {"description": "OK"}}}},
    "/artifacts/{id}/load": {"post": {"summary": "Ensure an artifact is loaded", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "loaded"}, "202": {"description": "loading"}, "404": {"description": "unknown id"}, "409": {"description": "busy"}, "422": {"description": "validation failed"}, "503": {"description": "insufficient memory"}}}},
    "/artifacts/{id}": {"delete": {"summary": "Unload an artifact", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "unloaded"}}}},
    "/artifacts/{id}/progress": {"get": {"summary": "NDJSON download progress stream", "produces": ["application/x-ndjson"], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "stream"}}}},
    "/lifecycle": {"post": {"summary": "Report foreground/background transition", "responses": {"204": {"description": "accepted"}}}}
  }
}`

type swaggerDoc struct{}

func (swaggerDoc) ReadDoc() string { return docTemplate }

func init() {
	swag.Register(swag.Name, swaggerDoc{})
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
