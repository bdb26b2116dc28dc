package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestGoogle(t *testing.T, userinfo func(w http.ResponseWriter, r *http.Request)) *GoogleProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-1", "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/userinfo", userinfo)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewGoogleProvider("client", "secret", "http://localhost/callback")
	g.conf.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	g.userInfoURL = srv.URL + "/userinfo"
	return g
}

func TestGoogleProvider_Identify(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"sub":"123","email":"c@example.com","email_verified":true,"name":"Cee","picture":"https://img/p.png"}`))
	})

	ident, err := g.Identify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &ExternalIdentity{
		Provider: "google", Subject: "123", Email: "c@example.com", Name: "Cee", Picture: "https://img/p.png", Verified: true,
	}, ident)

	_, err = g.Identify(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGoogleProvider_UserInfoFailures(t *testing.T) {
	status := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := status.Identify(context.Background(), "good-code")
	assert.Error(t, err)

	noSub := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"c@example.com"}`))
	})
	_, err = noSub.Identify(context.Background(), "good-code")
	assert.Error(t, err)
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	assert.Nil(t, NewGoogleProvider("", "", ""))

	g := NewGoogleProvider("client", "secret", "http://localhost/callback")
	u, err := url.Parse(g.AuthCodeURL("st8"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "st8", u.Query().Get("state"))
	assert.Equal(t, "openid email profile", u.Query().Get("scope"))
}
