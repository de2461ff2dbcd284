package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signedIDToken(t *testing.T, email string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": email, "sub": "1"}).SignedString([]byte("test"))
	require.NoError(t, err)
	return raw
}

func newOAuthServer(t *testing.T) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var forms []url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		forms = append(forms, r.PostForm)
		resp := map[string]interface{}{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if r.PostForm.Get("grant_type") == "authorization_code" {
			resp["refresh_token"] = "refresh-1"
			resp["id_token"] = signedIDToken(t, "ops@example.com")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("token") == "bad" {
			http.Error(w, `{"error":"invalid_token"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &forms
}

func newTestProvider(srv *httptest.Server) *GoogleProvider {
	return NewGoogleProvider(GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/spreadsheets"},
		Endpoint:     &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		RevokeURL:    srv.URL + "/revoke",
		HTTPClient:   srv.Client(),
	})
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	srv, _ := newOAuthServer(t)
	p := newTestProvider(srv)

	u, err := url.Parse(p.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/callback", q.Get("redirect_uri"))
}

func TestGoogleProvider_ExchangeReadsAccount(t *testing.T) {
	srv, forms := newOAuthServer(t)
	p := newTestProvider(srv)

	tok, err := p.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "ops@example.com", AccountFromToken(tok))
	assert.Equal(t, "code-1", (*forms)[0].Get("code"))
}

func TestGoogleProvider_Refresh(t *testing.T) {
	srv, forms := newOAuthServer(t)
	p := newTestProvider(srv)

	tok, err := p.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh_token", (*forms)[0].Get("grant_type"))
	assert.Equal(t, "refresh-1", (*forms)[0].Get("refresh_token"))
}

func TestGoogleProvider_Revoke(t *testing.T) {
	srv, _ := newOAuthServer(t)
	p := newTestProvider(srv)

	assert.NoError(t, p.Revoke(context.Background(), "refresh-1"))

	err := p.Revoke(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestAccountFromToken_WithoutIDToken(t *testing.T) {
	assert.Equal(t, "", AccountFromToken(nil))
	assert.Equal(t, "", AccountFromToken(&oauth2.Token{AccessToken: "a"}))
	assert.Equal(t, "", AccountFromToken((&oauth2.Token{}).WithExtra(map[string]interface{}{"id_token": "garbage"})))
}
