package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// RevocationService handles forum-initiated session termination: it revokes
// every token a user holds and notifies relying parties via OIDC backchannel
// logout.
type RevocationService struct {
	Clients store.ClientRegistry
	Store   store.Store
	Signer  jwtx.Signer
	Issuer  string

	HTTPClient     *http.Client
	FanoutLimit    int
	RequestTimeout time.Duration
}

// LogoutUser revokes all the user's tokens and fans out logout tokens.
// Revocation is committed before any notification leaves the server, so a
// slow or failing relying party never delays the security effect. Delivery
// failures are logged and not returned.
func (s *RevocationService) LogoutUser(ctx context.Context, userID string) error {
	l := slogx.FromContext(ctx)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AccessTokens().RevokeAllUserAccessTokens(ctx, userID); err != nil {
			return err
		}
		if err := tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID); err != nil {
			return err
		}
		return tx.AuthorizationCodes().RevokeAllUserAuthorizationCodes(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	l.Info("revoked all tokens for user", "user_id", userID)

	s.notifyClients(ctx, userID)
	return nil
}

// notifyClients sends a logout token to every registered client with a
// backchannel logout URI.
func (s *RevocationService) notifyClients(ctx context.Context, userID string) {
	l := slogx.FromContext(ctx)

	clients, err := s.Clients.ListClients(ctx)
	if err != nil {
		l.Error("failed to list clients for logout fanout", "err", err)
		return
	}

	limit := s.FanoutLimit
	if limit <= 0 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	now := time.Now()
	for _, client := range clients {
		if client.BackchannelLogoutURI == "" || !client.Active {
			continue
		}

		g.Go(func() error {
			if err := s.sendLogoutToken(gctx, client.ID, client.BackchannelLogoutURI, userID, now); err != nil {
				l.Warn("backchannel logout delivery failed",
					"client_id", client.ID, "user_id", userID, "err", err)
			}
			return nil // delivery failures never abort the fanout
		})
	}
	_ = g.Wait()
}

func (s *RevocationService) sendLogoutToken(ctx context.Context, clientID, logoutURI, userID string, now time.Time) error {
	token, err := s.Signer.Sign(jwtx.NewLogoutClaims(userID, s.Issuer, clientID, now))
	if err != nil {
		return fmt.Errorf("sign logout token: %w", err)
	}

	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{"logout_token": {token}}
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, logoutURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("logout endpoint returned %d", resp.StatusCode)
	}
	return nil
}
