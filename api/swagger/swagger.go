package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Auth API",
        "description": "Session lifecycle service: registration, login, token refresh and revocation",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, token pair issuance, refresh and revocation"},
        {"name": "Accounts", "description": "Registration, email verification and password recovery"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Register a new account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate by username or email",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials or unverified email", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Inactive account", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/token/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Exchange a refresh token for a new pair",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid, revoked or stale token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/token/verify": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Verify a token without side effects",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token is valid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Token is invalid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke the presented pair and invalidate all sessions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LogoutRequest"}}
                ],
                "responses": {
                    "200": {"description": "Logged out", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/password/change": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change the current password",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {
                    "200": {"description": "Password changed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Old password does not match", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/verify-email/{token}": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Verify email address",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Email verified", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/resend-verification": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Re-send the verification email",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EmailRequest"}}
                ],
                "responses": {
                    "200": {"description": "Generic outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/password/reset": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Request a password reset link",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EmailRequest"}}
                ],
                "responses": {
                    "200": {"description": "Generic outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/password/reset/confirm": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Confirm a password reset",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfirmResetPasswordRequest"}}
                ],
                "responses": {
                    "200": {"description": "Password reset", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Current user profile",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Profile", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Accounts"],
                "summary": "Update current user profile",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated profile", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/google/login": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Start Google login",
                "responses": {
                    "307": {"description": "Redirect to Google consent page"}
                }
            }
        },
        "/auth/google/callback": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Google login callback",
                "parameters": [
                    {"name": "code", "in": "query", "required": true, "type": "string"},
                    {"name": "state", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Exchange failed or state mismatch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "required": ["username", "email", "password", "password_confirm"],
            "properties": {
                "username": {"type": "string"},
                "email": {"type": "string"},
                "password": {"type": "string"},
                "password_confirm": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "phone_number": {"type": "string"},
                "date_of_birth": {"type": "string"},
                "address": {"type": "string"},
                "bio": {"type": "string"}
            }
        },
        "UpdateProfileRequest": {
            "type": "object",
            "properties": {
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "phone_number": {"type": "string"},
                "date_of_birth": {"type": "string", "description": "YYYY-MM-DD"},
                "address": {"type": "string"},
                "bio": {"type": "string"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string", "description": "Handle or email address"},
                "password": {"type": "string"}
            }
        },
        "RefreshRequest": {
            "type": "object",
            "required": ["refresh"],
            "properties": {
                "refresh": {"type": "string"}
            }
        },
        "VerifyTokenRequest": {
            "type": "object",
            "required": ["token"],
            "properties": {
                "token": {"type": "string"}
            }
        },
        "LogoutRequest": {
            "type": "object",
            "required": ["refresh"],
            "properties": {
                "refresh": {"type": "string"},
                "access": {"type": "string"}
            }
        },
        "ChangePasswordRequest": {
            "type": "object",
            "required": ["old_password", "new_password", "new_password_confirm"],
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"},
                "new_password_confirm": {"type": "string"}
            }
        },
        "ConfirmResetPasswordRequest": {
            "type": "object",
            "required": ["token", "new_password", "new_password_confirm"],
            "properties": {
                "token": {"type": "string"},
                "new_password": {"type": "string"},
                "new_password_confirm": {"type": "string"}
            }
        },
        "EmailRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {
                "email": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
