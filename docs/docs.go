// Package docs registers the OpenAPI document served under /swagger/.
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
                "description": "Authenticates user and sets session cookie",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Login",
                "parameters": [
                    {"description": "Credentials", "name": "creds", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.loginRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/logout": {
            "post": {
                "summary": "Logout",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/healthz": {
            "get": {
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/cart": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Show cart",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/main.cartResponse"}}}
            },
            "delete": {
                "security": [{"ApiKeyAuth": []}],
                "summary": "Clear cart",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/cart/items": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Add item to cart",
                "parameters": [
                    {"description": "Menu item", "name": "item", "in": "body", "required": true, "schema": {"$ref": "#/definitions/menu.Item"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/main.cartResponse"}}, "400": {"description": "Bad Request"}}
            }
        },
        "/cart/items/{id}": {
            "delete": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Remove item from cart",
                "parameters": [{"type": "string", "description": "Item ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/main.cartResponse"}}}
            },
            "patch": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Change item quantity",
                "parameters": [
                    {"type": "string", "description": "Item ID", "name": "id", "in": "path", "required": true},
                    {"description": "Quantity delta", "name": "delta", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.quantityRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/main.cartResponse"}}, "400": {"description": "Bad Request"}}
            }
        },
        "/cart/toggle": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Toggle cart visibility",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/main.toggleResponse"}}}
            }
        },
        "/cart/commit": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Commit cart as order",
                "parameters": [
                    {"description": "Location", "name": "commit", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.commitRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/main.orderIDResponse"}}, "400": {"description": "Bad Request"}}
            }
        },
        "/orders": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "List orders",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/order.Order"}}}}
            },
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create or merge order",
                "parameters": [
                    {"description": "Order request", "name": "order", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.createOrderRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/main.orderIDResponse"}}, "400": {"description": "Bad Request"}}
            }
        },
        "/orders/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Get order",
                "parameters": [{"type": "string", "description": "Order ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/order.Order"}}, "404": {"description": "Not Found"}}
            }
        },
        "/orders/{id}/complete": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Complete order",
                "parameters": [{"type": "string", "description": "Order ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/order.Order"}}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}
            }
        }
    },
    "definitions": {
        "main.loginRequest": {
            "type": "object",
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}
        },
        "main.quantityRequest": {
            "type": "object",
            "properties": {"delta": {"type": "integer"}}
        },
        "main.commitRequest": {
            "type": "object",
            "properties": {"location_id": {"type": "string"}, "type": {"type": "string", "enum": ["table", "room"]}}
        },
        "main.createOrderRequest": {
            "type": "object",
            "properties": {
                "location_id": {"type": "string"},
                "type": {"type": "string", "enum": ["table", "room"]},
                "items": {"type": "array", "items": {"$ref": "#/definitions/order.Line"}}
            }
        },
        "main.orderIDResponse": {
            "type": "object",
            "properties": {"id": {"type": "string"}}
        },
        "main.toggleResponse": {
            "type": "object",
            "properties": {"open": {"type": "boolean"}}
        },
        "main.cartResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/cart.Line"}},
                "count": {"type": "integer"},
                "subtotal": {"type": "string"},
                "tax": {"type": "string"},
                "total": {"type": "string"},
                "open": {"type": "boolean"}
            }
        },
        "menu.Item": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "price": {"type": "string"},
                "image_url": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "cart.Line": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "price": {"type": "string"},
                "image_url": {"type": "string"},
                "description": {"type": "string"},
                "quantity": {"type": "integer"}
            }
        },
        "order.Line": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "quantity": {"type": "integer"},
                "price": {"type": "string"}
            }
        },
        "order.Order": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "location_id": {"type": "string"},
                "type": {"type": "string", "enum": ["table", "room"]},
                "items": {"type": "array", "items": {"$ref": "#/definitions/order.Line"}},
                "status": {"type": "string", "enum": ["pending", "completed"]},
                "created_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "session_id", "in": "cookie"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8443",
	BasePath:         "/",
	Schemes:          []string{"https"},
	Title:            "PMS Desk ordering API",
	Description:      "Cart and order aggregation for table and room service",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
