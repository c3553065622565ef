package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier implements Verifier
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	switch raw {
	case "goodtoken":
		return &fakeToken{data: map[string]interface{}{"sub": "user1", "email": "test@example.com", "role": "teacher"}}, nil
	case "principaltoken":
		return &fakeToken{data: map[string]interface{}{
			"sub":          "user2",
			"realm_access": map[string]interface{}{"roles": []interface{}{"offline_access", "Principal"}},
		}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func serve(t *testing.T, header string, handlers ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/", handlers...)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func ok(c *gin.Context) { c.Status(http.StatusOK) }

func TestAuthMiddleware_NoHeader(t *testing.T) {
	rw := serve(t, "", AuthMiddleware(&fakeVerifier{}), ok)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	for _, h := range []string{"BadHeader", "Basic goodtoken", "Bearer "} {
		rw := serve(t, h, AuthMiddleware(&fakeVerifier{}), ok)
		require.Equal(t, http.StatusUnauthorized, rw.Code, h)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	rw := serve(t, "Bearer nope", AuthMiddleware(&fakeVerifier{}), ok)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Contains(t, rw.Body.String(), "invalid token")
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	rw := serve(t, "Bearer goodtoken", AuthMiddleware(&fakeVerifier{}), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		require.Equal(t, "user1", Subject(c))
		c.JSON(http.StatusOK, gin.H{"claims": claims})
	})

	require.Equal(t, http.StatusOK, rw.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Contains(t, got, "claims")
}

func TestRequireRole(t *testing.T) {
	auth := AuthMiddleware(&fakeVerifier{})

	rw := serve(t, "Bearer goodtoken", auth, RequireRole("principal"), ok)
	require.Equal(t, http.StatusForbidden, rw.Code)

	rw = serve(t, "Bearer principaltoken", auth, RequireRole("principal"), ok)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = serve(t, "Bearer goodtoken", auth, RequireRole("principal", "teacher"), ok)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = serve(t, "", RequireRole("teacher"), ok)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestRoles(t *testing.T) {
	claims := map[string]interface{}{
		"role":         "teacher",
		"roles":        []string{"auditor"},
		"realm_access": map[string]interface{}{"roles": []interface{}{"principal", 7}},
	}
	require.Equal(t, []string{"teacher", "auditor", "principal"}, Roles(claims))
	require.True(t, HasRole(claims, "PRINCIPAL"))
	require.False(t, HasRole(claims, "student"))
	require.Empty(t, Roles(map[string]interface{}{}))
}
