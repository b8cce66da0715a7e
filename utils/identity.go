package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kataras/iris/v12"
)

// The identity gate can run in two modes. The default is the HS256
// shared-secret verifier wired in main. When IDENTITY_JWKS_URL is set the
// external identity provider signs tokens with RS256 and we verify them
// against its published JWKS instead.

var (
	jwksMu        sync.Mutex
	jwksCached    *keyfunc.JWKS
	jwksFetchedAt time.Time
)

func identityJWKS() (*keyfunc.JWKS, error) {
	jwksMu.Lock()
	defer jwksMu.Unlock()

	if jwksCached != nil && time.Since(jwksFetchedAt) < time.Hour {
		return jwksCached, nil
	}

	url := os.Getenv("IDENTITY_JWKS_URL")
	if url == "" {
		return nil, fmt.Errorf("IDENTITY_JWKS_URL not configured")
	}

	client := http.Client{Timeout: 10 * time.Second}
	res, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	jwks, err := keyfunc.NewJSON(body)
	if err != nil {
		return nil, err
	}
	jwksCached = jwks
	jwksFetchedAt = time.Now()
	return jwks, nil
}

// VerifyIdentityToken validates an RS256 identity-gate token and returns
// the principal it asserts.
func VerifyIdentityToken(tokenStr string) (*AccessToken, error) {
	jwks, err := identityJWKS()
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenStr, jwks.Keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid identity token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	sub := fmt.Sprint(claims["sub"])
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("identity token has no usable subject")
	}

	role := "user"
	if r, ok := claims["role"].(string); ok && r != "" {
		role = r
	}

	return &AccessToken{ID: uint(id), Role: role}, nil
}

// IdentityGateMiddleware authenticates requests against the external
// identity provider's JWKS. It is installed instead of the HS256 verifier
// when IDENTITY_JWKS_URL is configured.
func IdentityGateMiddleware(ctx iris.Context) {
	auth := ctx.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		ctx.StopWithStatus(iris.StatusUnauthorized)
		return
	}

	principal, err := VerifyIdentityToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid identity token.", ctx)
		return
	}

	ctx.Values().Set("userID", principal.ID)
	ctx.Values().Set("role", principal.Role)
	ctx.Next()
}
