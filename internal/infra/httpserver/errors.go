package httpserver

const (
	ErrInvalidID        = "invalid id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrBadForm          = "bad form"
	ErrInvalidSignature = "invalid signature"
	ErrUnauthorized     = "unauthorized"
)
