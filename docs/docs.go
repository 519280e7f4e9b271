// Package docs registers the OpenAPI description served at /swagger.
// Regenerate the paths with `swag init -g internal/app/app.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/projects/{id}/reminders": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "List reminders of a project",
                "parameters": [
                    {"type": "integer", "description": "Project ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Include completed and cancelled reminders", "name": "include_completed", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Create a project reminder",
                "parameters": [
                    {"type": "integer", "description": "Project ID", "name": "id", "in": "path", "required": true},
                    {"description": "Reminder configuration", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}
            }
        },
        "/projects/{id}/status-events": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["projects"],
                "summary": "Report a project status change",
                "parameters": [
                    {"type": "integer", "description": "Project ID", "name": "id", "in": "path", "required": true},
                    {"description": "New status", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {"202": {"description": "Accepted"}}
            }
        },
        "/reminders/due": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Reminders currently due for the caller",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/reminders/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Get a reminder",
                "parameters": [{"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            }
        },
        "/reminders/{id}/snooze": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Snooze a due reminder",
                "parameters": [
                    {"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true},
                    {"description": "Minutes to postpone", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/reminders/{id}/complete": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Complete a reminder (re-arms repeating reminders)",
                "parameters": [{"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/reminders/{id}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Cancel a reminder",
                "parameters": [{"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}
            }
        },
        "/reminders/{id}/pause": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Pause a reminder",
                "parameters": [{"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/reminders/{id}/resume": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reminders"],
                "summary": "Resume a paused reminder",
                "parameters": [{"type": "string", "description": "Reminder ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/feed": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["feed"],
                "summary": "The caller's in-app reminder feed",
                "parameters": [
                    {"type": "boolean", "description": "Only unread items", "name": "unread", "in": "query"},
                    {"type": "integer", "description": "Page size (default 50, max 200)", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/feed/{id}/read": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["feed"],
                "summary": "Mark a feed item read",
                "parameters": [{"type": "integer", "description": "Feed item ID", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}}
            }
        },
        "/feed/ws": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["feed"],
                "summary": "Realtime feed over websocket",
                "parameters": [{"type": "string", "description": "JWT when the Authorization header cannot be set", "name": "access_token", "in": "query"}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/me/contact": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["me"],
                "summary": "Notification addresses of the caller",
                "responses": {"200": {"description": "OK"}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["me"],
                "summary": "Update notification addresses of the caller",
                "parameters": [{"description": "Contact", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "PrintFlow Reminder Engine API",
	Description:      "Project reminders for print production: scheduling, stage triggers and acknowledgements.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
