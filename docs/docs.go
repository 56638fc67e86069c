// Package docs registers the OpenAPI description served under /swagger.
// Regenerate with `swag init -g cmd/api/main.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "AdminBearer": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/healthz": {"get": {"tags": ["System"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["System"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Database unavailable"}}}},
        "/robokassa/result": {"post": {"tags": ["Webhook"], "summary": "Robokassa result callback", "consumes": ["application/x-www-form-urlencoded"], "produces": ["text/plain"], "responses": {"200": {"description": "OK{InvId}"}, "400": {"description": "Rejected"}, "404": {"description": "Unknown invoice"}}}},
        "/robokassa/success": {"get": {"tags": ["Webhook"], "summary": "Robokassa success redirect", "responses": {"200": {"description": "OK"}}}},
        "/robokassa/fail": {"get": {"tags": ["Webhook"], "summary": "Robokassa fail redirect", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/plans": {"get": {"tags": ["Users"], "summary": "Plan catalog", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users": {"post": {"tags": ["Users"], "summary": "Register or load a user", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users/{user_id}/profile": {"put": {"tags": ["Users"], "summary": "Update demographics", "parameters": [{"name": "user_id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users/{user_id}/admission": {"post": {"tags": ["Users"], "summary": "Admit a question", "parameters": [{"name": "user_id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users/{user_id}/questions": {"post": {"tags": ["Users"], "summary": "Record an answered question", "parameters": [{"name": "user_id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users/{user_id}/payments": {"post": {"tags": ["Users"], "summary": "Issue a payment", "parameters": [{"name": "user_id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/users/{user_id}/subscription": {"get": {"tags": ["Users"], "summary": "Current subscription", "parameters": [{"name": "user_id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/crm/plan": {"post": {"tags": ["Admin"], "summary": "Run CRM planner", "security": [{"AdminBearer": []}], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/v1/admin/crm/dispatch": {"post": {"tags": ["Admin"], "summary": "Run CRM dispatcher", "security": [{"AdminBearer": []}], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/v1/admin/crm/tasks": {"post": {"tags": ["Admin"], "summary": "List CRM tasks", "security": [{"AdminBearer": []}], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/v1/admin/statistics": {"post": {"tags": ["Admin"], "summary": "Dashboard statistics", "security": [{"AdminBearer": []}], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8888",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Botoracle Backend API",
	Description:      "Quota, subscription, payment reconciliation and CRM outreach for the oracle bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
