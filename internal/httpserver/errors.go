package httpserver

const (
	ErrBadForm         = "bad form"
	ErrUnauthenticated = "missing user identity"
	ErrPublishPending  = "publish already in progress, retry shortly"
	ErrDependency      = "dependency error"
	ErrNotFound        = "not found"
)
