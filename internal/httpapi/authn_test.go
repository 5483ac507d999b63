package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal.io/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"valid":        {header: "Bearer abc.def", want: "abc.def", ok: true},
		"lowercase":    {header: "bearer abc", want: "abc", ok: true},
		"empty":        {header: ""},
		"wrong scheme": {header: "Basic dXNlcjpwYXNz"},
		"no token":     {header: "Bearer   "},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGateWithoutClaimsRejects(t *testing.T) {
	api := &API{}
	handler := api.gate("admin", nil, okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateAttachesClaims(t *testing.T) {
	signer, err := auth.NewSigner(testSecret)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.NewMemoryStore(), signer, nil)
	require.NoError(t, err)
	api := &API{auth: svc}

	claims := auth.Claims{PrincipalType: auth.PrincipalClient, CompanyID: "co1"}
	claims.Subject = "client-1"
	token, _, err := signer.Issue(claims)
	require.NoError(t, err)

	var got *auth.Claims
	handler := api.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.ClaimsFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "client-1", got.Subject)
	assert.Equal(t, "co1", got.CompanyID)
}
