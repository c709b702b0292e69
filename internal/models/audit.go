package models

import "time"

// AuditAction constants represent auth events to be logged.
const (
	AuditActionRegister       = "REGISTER"
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionTokenRefresh   = "TOKEN_REFRESH"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionPasswordReset  = "PASSWORD_RESET"
	AuditActionEmailVerified  = "EMAIL_VERIFIED"
	AuditActionOAuthLogin     = "OAUTH_LOGIN"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
