package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/identity"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/internal/oidc/store/drivers/sqlite"
	"github.com/wintermoot/forumoidc/internal/oidc/store/memory"
	"github.com/wintermoot/forumoidc/pkg/cryptox"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
)

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testSigner(t *testing.T) *jwtx.RS256Signer {
	t.Helper()

	testRSAOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = key
	})
	return jwtx.NewRS256Signer(testRSAKey)
}

const testClientSecret = "wiki-secret"

type testEnv struct {
	clients   *memory.ClientRegistry
	scopes    *memory.ScopeRegistry
	store     store.Store
	users     *identity.StaticProvider
	codec     *cryptox.Codec
	signer    *jwtx.RS256Signer
	authorize *AuthorizeService
	tokens    *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	secretHash, err := cryptox.HashSecret(testClientSecret)
	require.NoError(t, err)

	clients, err := memory.ParseClientRegistry([]byte(`
clients:
  - id: wiki
    name: Team Wiki
    secret_hash: "` + secretHash + `"
    redirect_uris: [https://wiki.example/cb]
    scopes: [openid, email, groups]
    backchannel_logout_uri: https://wiki.example/backchannel
  - id: mobile
    name: Mobile App
    redirect_uris: [app.example://cb]
    allow_plain_pkce: true
  - id: open
    name: No Allowlist
    redirect_uris: [https://open.example/cb]
`))
	require.NoError(t, err)

	scopes, err := memory.ParseScopeRegistry([]byte(`
scopes:
  - id: email
    description: Email address
  - id: groups
    description: Forum groups
  - id: profile
    description: Public profile
`))
	require.NoError(t, err)

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	users := identity.NewStaticProvider()
	users.Add(identity.Identity{
		UserID:   "42",
		Username: "alice",
		Email:    "alice@example.org",
		Groups:   []string{"Registered", "Moderators"},
	})
	users.Add(identity.Identity{UserID: "7", Username: "mallory"})

	var keyBytes [32]byte
	_, err = rand.Read(keyBytes[:])
	require.NoError(t, err)
	codec, err := cryptox.NewCodec(base64.StdEncoding.EncodeToString(keyBytes[:]))
	require.NoError(t, err)

	signer := testSigner(t)

	env := &testEnv{
		clients: clients,
		scopes:  scopes,
		store:   st,
		users:   users,
		codec:   codec,
		signer:  signer,
	}
	env.authorize = &AuthorizeService{
		Clients:  clients,
		Scopes:   scopes,
		Store:    st,
		Identity: users,
		Codec:    codec,
		CodeTTL:  10 * time.Minute,
	}
	env.tokens = &TokenService{
		Clients:    clients,
		Store:      st,
		Identity:   users,
		Codec:      codec,
		Signer:     signer,
		Issuer:     "https://forum.example",
		AccessTTL:  10 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		IDTokenTTL: 10 * time.Minute,
	}
	return env
}

// issueCode runs a full valid authorization for the wiki client.
func (env *testEnv) issueCode(t *testing.T, req AuthorizationRequest) string {
	t.Helper()

	ctx := context.Background()
	client, err := env.authorize.ValidateClient(ctx, req.ClientID, req.RedirectURI)
	require.NoError(t, err)

	code, err := env.authorize.BeginAuthorization(ctx, client, req)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	return code
}

func wikiRequest(verifierChallenge string) AuthorizationRequest {
	return AuthorizationRequest{
		ClientID:            "wiki",
		RedirectURI:         "https://wiki.example/cb",
		ResponseType:        "code",
		Scopes:              []string{"openid", "email"},
		State:               "xyz",
		Nonce:               "n-123",
		CodeChallenge:       verifierChallenge,
		CodeChallengeMethod: domain.ChallengeMethodS256,
		UserID:              "42",
	}
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
