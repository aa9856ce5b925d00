package tokens

import "github.com/golang-jwt/jwt/v5"

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type AccessClaims struct {
	Roles []string `json:"roles"`
	Type  string   `json:"typ"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}
