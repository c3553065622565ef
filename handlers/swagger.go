package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the analytics service.
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
    <title>campus-analytics Swagger</title>
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

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "campus-analytics", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Error": { "type": "object", "properties": { "error": { "type": "object", "properties": {
        "kind": { "type": "string", "enum": ["INVALID_PARAMETER", "REFERENCE_NOT_FOUND", "AGGREGATION_ERROR", "STORE_UNAVAILABLE", "INTERNAL_ERROR"] },
        "message": { "type": "string" }, "stage": { "type": "integer" }, "details": { "type": "object" } } } } }
    },
    "parameters": {
      "page": { "name": "page", "in": "query", "schema": { "type": "integer", "minimum": 1, "default": 1 } },
      "limit": { "name": "limit", "in": "query", "schema": { "type": "integer", "minimum": 1 } },
      "sort": { "name": "sort", "in": "query", "schema": { "type": "integer", "enum": [1, -1], "default": 1 } }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/v1/analytics": {
      "get": { "summary": "List available recipes and search filters", "responses": { "200": { "description": "recipe catalogue" } } }
    },
    "/api/v1/analytics/{recipe}": {
      "get": {
        "summary": "Run a recipe: search, filterListing, revenueRollup, topperRanking or listDepartments",
        "parameters": [
          { "name": "recipe", "in": "path", "required": true, "schema": { "type": "string", "enum": ["search", "filterListing", "revenueRollup", "topperRanking", "listDepartments"] } },
          { "$ref": "#/components/parameters/page" },
          { "$ref": "#/components/parameters/limit" },
          { "$ref": "#/components/parameters/sort" },
          { "name": "search", "in": "query", "schema": { "type": "string" } },
          { "name": "departmentName", "in": "query", "schema": { "type": "string" } },
          { "name": "teacherName", "in": "query", "schema": { "type": "string" } },
          { "name": "studentName", "in": "query", "schema": { "type": "string" } },
          { "name": "subjectName", "in": "query", "schema": { "type": "string" } },
          { "name": "keyword", "in": "query", "schema": { "type": "string" } },
          { "name": "topperType", "in": "query", "schema": { "type": "string", "enum": ["department", "university"] } },
          { "name": "top", "in": "query", "schema": { "type": "integer", "minimum": 1 } },
          { "name": "export", "in": "query", "schema": { "type": "boolean" } }
        ],
        "responses": {
          "200": { "description": "recipe result" },
          "400": { "description": "invalid parameter", "content": { "application/json": { "schema": { "$ref": "#/components/schemas/Error" } } } },
          "401": { "description": "missing or invalid token" },
          "403": { "description": "role not allowed for recipe" },
          "404": { "description": "referenced entity not found" },
          "422": { "description": "aggregation error" },
          "429": { "description": "rate limited" },
          "503": { "description": "store unavailable" }
        }
      }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "text exposition" } } } }
  }
}`
