// Package docs holds the OpenAPI description served at /swagger.
// Regenerate with `swag init -g cmd/server/main.go`.
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
        "/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Iniciar sesión",
                "parameters": [
                    {"description": "Credentials", "name": "login", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Verification"],
                "summary": "Registro",
                "parameters": [
                    {"description": "Account data", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": true}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/register/confirm": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Verification"],
                "summary": "Confirmar correo",
                "parameters": [
                    {"description": "Email and code", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ConfirmEmailRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "423": {"description": "Locked", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/register/resend": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Verification"],
                "summary": "Reenviar código",
                "parameters": [
                    {"description": "Email", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ResendCodeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": true}},
                    "429": {"description": "Too Many Requests", "schema": {"type": "object", "additionalProperties": true}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/me/verification": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Verification"],
                "summary": "Estado de verificación",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/notifications/publication": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Notifications"],
                "summary": "Aviso de nueva publicación",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"type": "object", "additionalProperties": true}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": true}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/notifications/donation": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Notifications"],
                "summary": "Aviso de nueva donación",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"type": "object", "additionalProperties": true}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": true}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "models.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "models.RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "username"],
            "properties": {
                "username": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "models.ConfirmEmailRequest": {
            "type": "object",
            "required": ["code", "email"],
            "properties": {"email": {"type": "string"}, "code": {"type": "string"}}
        },
        "models.ResendCodeRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {"email": {"type": "string"}}
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
	Title:            "Comedores API",
	Description:      "Registro, verificación de correo y avisos de Comedores Comunitarios.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
