package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
)

func (tr *testRouter) userinfo(t *testing.T, accessToken string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/oauth2/v1/userinfo", nil)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return tr.do(req)
}

func TestUserInfoScopeGatedClaims(t *testing.T) {
	tr := newTestRouter(t)

	const verifier = "userinfo-verifier-0123456789abcdef0123456789abcdef"
	code := tr.issueCode(t, verifier)
	tok := tr.exchange(t, code, verifier)

	rec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info oidcsdk.UserInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "42", info.Sub)
	require.Equal(t, "alice@example.org", info.Email)

	// The profile scope was not granted.
	require.Empty(t, info.PreferredUsername)
	require.Empty(t, info.Profile)
	require.Empty(t, info.Picture)
	require.Empty(t, info.IDGroups)
}

func TestUserInfoProfileScope(t *testing.T) {
	tr := newTestRouter(t)

	// The open client has no allowlist, so it can request profile.
	const verifier = "profile-verifier-0123456789abcdef0123456789abcdef"
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {"open"},
		"redirect_uri":          {"https://open.example/cb"},
		"scope":                 {"openid profile"},
		"state":                 {"s"},
		"code_challenge":        {challengeFor(verifier)},
		"code_challenge_method": {"S256"},
	}
	rec := tr.authorize(t, params, "42")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tokRec := tr.postForm(t, "/oauth2/v1/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://open.example/cb"},
		"client_id":     {"open"},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, tokRec.Code, tokRec.Body.String())
	tok := decodeTokenResponse(t, tokRec)

	infoRec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusOK, infoRec.Code, infoRec.Body.String())

	var info oidcsdk.UserInfo
	require.NoError(t, json.Unmarshal(infoRec.Body.Bytes(), &info))
	require.Equal(t, "42", info.Sub)
	require.Equal(t, "alice", info.PreferredUsername)
	require.Equal(t, "https://forum.example/memberlist.php?mode=viewprofile&u=42", info.Profile)
	require.Equal(t, "https://forum.example/download/file.php?avatar=42_166.png", info.Picture)
	require.Equal(t, []string{"Registered", "Moderators"}, info.IDGroups)

	// Email was not granted.
	require.Empty(t, info.Email)
}

func TestUserInfoRequiresBearerToken(t *testing.T) {
	tr := newTestRouter(t)

	t.Run("no header", func(t *testing.T) {
		rec := tr.userinfo(t, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := tr.userinfo(t, "not.a.jwt")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})
}

func TestUserInfoWithoutOpenIDScope(t *testing.T) {
	tr := newTestRouter(t)

	// The open client has no allowlist, so a bare email grant is allowed.
	const verifier = "open-client-verifier-0123456789abcdef0123456789ab"
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {"open"},
		"redirect_uri":          {"https://open.example/cb"},
		"scope":                 {"email"},
		"state":                 {"s"},
		"code_challenge":        {challengeFor(verifier)},
		"code_challenge_method": {"S256"},
	}
	rec := tr.authorize(t, params, "42")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tokRec := tr.postForm(t, "/oauth2/v1/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://open.example/cb"},
		"client_id":     {"open"},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, tokRec.Code, tokRec.Body.String())
	tok := decodeTokenResponse(t, tokRec)
	require.Empty(t, tok.IDToken)

	infoRec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusForbidden, infoRec.Code)
	require.Contains(t, infoRec.Header().Get("WWW-Authenticate"), "insufficient_scope")
}

func TestUserInfoAfterRevocation(t *testing.T) {
	tr := newTestRouter(t)

	const verifier = "userinfo-verifier-0123456789abcdef0123456789abcdef"
	code := tr.issueCode(t, verifier)
	tok := tr.exchange(t, code, verifier)

	rec := tr.postForm(t, "/oauth2/v1/revoke", url.Values{
		"token":         {tok.RefreshToken},
		"client_id":     {"wiki"},
		"client_secret": {testWikiSecret},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	infoRec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusUnauthorized, infoRec.Code)
}

func TestUserInfoBannedUser(t *testing.T) {
	tr := newTestRouter(t)

	const verifier = "userinfo-verifier-0123456789abcdef0123456789abcdef"
	code := tr.issueCode(t, verifier)
	tok := tr.exchange(t, code, verifier)

	tr.users.SetBanned("42", true)

	infoRec := tr.userinfo(t, tok.AccessToken)
	require.Equal(t, http.StatusUnauthorized, infoRec.Code)
}
