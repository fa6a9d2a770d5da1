package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalLogout(t *testing.T) {
	tr := newTestRouter(t)

	const verifier = "logout-verifier-0123456789abcdef0123456789abcdef"
	code := tr.issueCode(t, verifier)
	tok := tr.exchange(t, code, verifier)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/v1/logout",
		strings.NewReader(url.Values{"user_id": {"42"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Gateway-Key", testGatewayKey)
	rec := tr.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Every token the user held is now dead.
	infoRec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusUnauthorized, infoRec.Code)

	refreshRec := tr.postForm(t, "/oauth2/v1/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
		"client_id":     {"wiki"},
		"client_secret": {testWikiSecret},
	})
	require.Equal(t, http.StatusBadRequest, refreshRec.Code)
	require.Equal(t, "invalid_grant", decodeOAuthError(t, refreshRec).Error)
}

func TestInternalLogoutRequiresGatewayKey(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/v1/logout",
		strings.NewReader(url.Values{"user_id": {"42"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := tr.do(req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "access_denied", decodeOAuthError(t, rec).Error)
}

func TestInternalLogoutMissingUserID(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/v1/logout", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Gateway-Key", testGatewayKey)
	rec := tr.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeOAuthError(t, rec).Error)
}
