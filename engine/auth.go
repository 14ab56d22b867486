package engine

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var (
	errEmptySecret = errors.New("shared secret must not be empty")
	errInvalidKey  = errors.New("presented token does not match")
)

// Authenticator gates requests behind a single shared bearer secret
type Authenticator struct {
	digest [sha256.Size]byte
}

// NewAuthenticator refuses an empty secret so the service can never run unauthenticated
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	return &Authenticator{digest: sha256.Sum256([]byte(secret))}, nil
}

// Check reports whether token equals the secret. Both sides are hashed first so the
// comparison takes the same time whatever the token length.
func (a *Authenticator) Check(token string) bool {
	presented := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(presented[:], a.digest[:]) == 1
}

// Middleware expects "Authorization: Bearer <token>". Missing or malformed headers and
// wrong tokens all end in 401 before the request body is touched.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			if !a.Check(key) {
				return false, errInvalidKey
			}
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return errUnauthenticated(err)
		},
	})
}
