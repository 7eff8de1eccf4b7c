package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "storefront")

	token, err := v.Issue(domain.Actor{UserID: "user-1", Role: domain.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "user-1", Role: domain.RoleAdmin}, actor)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "storefront")

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	valid := func() Claims {
		return Claims{
			Role: domain.RoleCustomer,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				Issuer:    "storefront",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("other"), valid())
			},
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				c := valid()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return sign(t, jwt.SigningMethodHS256, []byte("secret"), c)
			},
		},
		{
			name: "no expiry",
			token: func(t *testing.T) string {
				c := valid()
				c.ExpiresAt = nil
				return sign(t, jwt.SigningMethodHS256, []byte("secret"), c)
			},
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				c := valid()
				c.Issuer = "elsewhere"
				return sign(t, jwt.SigningMethodHS256, []byte("secret"), c)
			},
		},
		{
			name: "unknown role",
			token: func(t *testing.T) string {
				c := valid()
				c.Role = "root"
				return sign(t, jwt.SigningMethodHS256, []byte("secret"), c)
			},
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				c := valid()
				c.Subject = ""
				return sign(t, jwt.SigningMethodHS256, []byte("secret"), c)
			},
		},
		{
			name: "different algorithm",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, []byte("secret"), valid())
			},
		},
		{
			name:  "garbage",
			token: func(t *testing.T) string { return "not-a-jwt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token(t))
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestVerifier_Middleware(t *testing.T) {
	v := NewVerifier("secret", "")

	var got domain.Actor
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		require.True(t, ok)
		got = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Issue(domain.Actor{UserID: "user-7", Role: domain.RoleCustomer}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/orders/mine", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-7", got.UserID)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/mine", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/mine", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
