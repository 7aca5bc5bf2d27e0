package utils

// SessionData is what a login stores in redis under "Token:<jwt>". The
// session middleware hydrates the request context from it.
type SessionData struct {
	Username string `json:"username"`
	UserId   int    `json:"userId"`
	Role     string `json:"role"`
}
