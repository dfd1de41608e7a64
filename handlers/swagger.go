package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the signing service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>signdesk - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the distribution and signing endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "signdesk", "version": "v0.1.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } } },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/v1/signable-documents": {
      "get": {
        "summary": "List documents (all for managers, own for signers) with progress",
        "parameters": [
          { "name": "status", "in": "query", "schema": { "type": "string", "enum": ["pending", "complete"] } },
          { "name": "ownerId", "in": "query", "schema": { "type": "string" } }
        ],
        "responses": { "200": { "description": "documents" }, "400": { "description": "unknown status" } }
      },
      "post": {
        "summary": "Distribute a document to signers",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"},"file":{"type":"string"},"contentDigest":{"type":"string"},"signerIds":{"type":"array","items":{"type":"string"}}}}}}},
        "responses": { "201": { "description": "created" }, "400": { "description": "validation failed" }, "403": { "description": "manager role required" } }
      }
    },
    "/api/v1/signable-documents/{id}": {
      "get": { "summary": "Get a document and its ledger", "responses": { "200": { "description": "document" }, "403": { "description": "not a signer" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete a document and all its signatures", "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/api/v1/signable-documents/{id}/file": {
      "get": { "summary": "Download the caller's signed copy, or the original", "responses": { "200": { "description": "file" } } }
    },
    "/api/v1/signable-documents/{id}/signing": {
      "get": {
        "summary": "Signing session snapshot and transcript",
        "parameters": [ { "name": "wait", "in": "query", "schema": { "type": "boolean" } } ],
        "responses": { "200": { "description": "session" } }
      },
      "delete": { "summary": "Dismiss the signing session", "responses": { "204": { "description": "dismissed" }, "409": { "description": "attempt in progress" } } }
    },
    "/api/v1/signable-documents/{id}/signing/open": {
      "post": { "summary": "Review the document before signing", "responses": { "200": { "description": "reviewing" }, "404": { "description": "no pending entry" }, "409": { "description": "already signed" } } }
    },
    "/api/v1/signable-documents/{id}/signing/confirm": {
      "post": { "summary": "Start a signing attempt with the local agent", "responses": { "202": { "description": "attempt started" }, "409": { "description": "attempt in progress" } } }
    },
    "/api/v1/users": {
      "get": { "summary": "Signer directory", "responses": { "200": { "description": "users" } } }
    },
    "/api/v1/files": {
      "post": {
        "summary": "Upload an original artifact",
        "requestBody": { "content": { "multipart/form-data": { "schema": {"type":"object","properties":{"file":{"type":"string","format":"binary"}}}}}},
        "responses": { "201": { "description": "file reference and SHA-256 digest" }, "413": { "description": "too large" } }
      }
    },
    "/api/v1/files/{ref}": {
      "get": { "summary": "Download a stored artifact", "responses": { "200": { "description": "file" }, "404": { "description": "not found" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
