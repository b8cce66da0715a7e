package utils

import (
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

// AccessToken is the verified principal attached to every core call by
// the identity gate. Handlers never trust a user id from a request body.
type AccessToken struct {
	ID   uint   `json:"ID"`
	Role string `json:"role"`
}

// UserIDFromTokenMiddleware extracts the user ID from the verified token
// and stores it in context for downstream handlers. In JWKS mode the
// identity gate has already set the context values.
func UserIDFromTokenMiddleware(ctx iris.Context) {
	if ctx.Values().Get("userID") != nil {
		ctx.Next()
		return
	}
	if claims, ok := jwt.Get(ctx).(*AccessToken); ok {
		ctx.Values().Set("userID", claims.ID)
		ctx.Values().Set("role", claims.Role)
		ctx.Next()
		return
	}
	ctx.StopWithStatus(iris.StatusUnauthorized)
}

// RequestUserID returns the authenticated user id, preferring the context
// value set by UserIDFromTokenMiddleware and falling back to the token.
func RequestUserID(ctx iris.Context) (uint, bool) {
	if v := ctx.Values().Get("userID"); v != nil {
		if id, ok := v.(uint); ok {
			return id, true
		}
	}
	if tok := jwt.Get(ctx); tok != nil {
		if at, ok := tok.(*AccessToken); ok {
			return at.ID, true
		}
	}
	return 0, false
}

// AdminOnlyMiddleware ensures the requester has admin or super_admin role.
func AdminOnlyMiddleware(ctx iris.Context) {
	role, _ := ctx.Values().Get("role").(string)
	if role == "" {
		if claims, ok := jwt.Get(ctx).(*AccessToken); ok {
			role = claims.Role
		}
	}
	if role != "admin" && role != "super_admin" {
		ctx.StatusCode(iris.StatusForbidden)
		ctx.JSON(iris.Map{"error": "forbidden", "message": "admin access required"})
		return
	}
	ctx.Next()
}
