// Package auth signs users in through GitHub or an OIDC provider and issues
// the bearer tokens the board API accepts.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"genui-canvas/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookie = "genui_oauth_state"
	tokenTTL    = 7 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// AppClaims are the claims carried by an issued token. The subject is the
// board owner id.
type AppClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

// User returns the identity the claims were issued for.
func (c *AppClaims) User() core.User {
	return core.User{
		Subject:   c.Subject,
		Login:     c.Login,
		Email:     c.Email,
		AvatarURL: c.AvatarURL,
		Name:      c.Name,
	}
}

type provider struct {
	name     string
	config   *oauth2.Config
	resolve  func(ctx context.Context, token *oauth2.Token) (*core.User, error)
	verifier *oidc.IDTokenVerifier
}

var (
	active    *provider
	jwtSecret []byte
)

// InitAuth picks the login provider from the environment. OIDC wins over
// GitHub when both are configured.
func InitAuth() {
	SetSecret(os.Getenv("JWT_SECRET"))

	switch {
	case os.Getenv("OIDC_ISSUER_URL") != "" && os.Getenv("OIDC_CLIENT_ID") != "":
		logrus.Info("Initializing OIDC authentication provider.")
		active = newOIDC(context.Background())
	case os.Getenv("GITHUB_CLIENT_ID") != "" && os.Getenv("GITHUB_CLIENT_SECRET") != "":
		logrus.Info("Initializing GitHub authentication provider.")
		active = newGitHub()
	default:
		logrus.Warn("No authentication provider configured.")
		active = nil
	}
}

// SetSecret sets the HMAC key tokens are signed with.
func SetSecret(secret string) {
	jwtSecret = []byte(secret)
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
}

func newGitHub() *provider {
	cfg := &oauth2.Config{
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}
	return &provider{name: "github", config: cfg, resolve: func(ctx context.Context, token *oauth2.Token) (*core.User, error) {
		resp, err := cfg.Client(ctx, token).Get("https://api.github.com/user")
		if err != nil {
			return nil, fmt.Errorf("fetching github user: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("github user endpoint returned %d", resp.StatusCode)
		}

		var gh struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			AvatarURL string `json:"avatar_url"`
			Name      string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
			return nil, fmt.Errorf("decoding github user: %w", err)
		}
		return &core.User{
			Subject:   fmt.Sprintf("github:%d", gh.ID),
			Login:     gh.Login,
			AvatarURL: gh.AvatarURL,
			Name:      gh.Name,
		}, nil
	}}
}

func newOIDC(ctx context.Context) *provider {
	issuer := os.Getenv("OIDC_ISSUER_URL")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	clientSecret := os.Getenv("OIDC_CLIENT_SECRET")
	if clientSecret == "" {
		logrus.Warn("OIDC_CLIENT_SECRET is not set. OIDC authentication routes will not work.")
		return nil
	}

	op, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		logrus.WithError(err).Error("Failed to create OIDC provider")
		return nil
	}
	p := &provider{
		name: "oidc",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     op.Endpoint(),
		},
		verifier: op.Verifier(&oidc.Config{ClientID: clientID}),
	}
	p.resolve = p.resolveIDToken
	logrus.WithField("issuer", issuer).Info("OIDC provider initialized")
	return p
}

func (p *provider) resolveIDToken(ctx context.Context, token *oauth2.Token) (*core.User, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Picture           string `json:"picture"`
		Sub               string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("reading id token claims: %w", err)
	}

	user := &core.User{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if user.Login == "" {
		user.Login = user.Email
	}
	return user, nil
}

func HandleLogin(w http.ResponseWriter, r *http.Request) {
	if active == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, active.config.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

// HandleCallback finishes the provider round trip and redirects to the app
// with a signed token in the query string.
func HandleCallback(w http.ResponseWriter, r *http.Request) {
	if active == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	log := logrus.WithField("provider", active.name)

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("state") {
		log.Warn("OAuth state mismatch")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		log.Error("No code in callback")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	token, err := active.config.Exchange(r.Context(), code)
	if err != nil {
		log.WithError(err).Error("Failed to exchange token")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	user, err := active.resolve(r.Context(), token)
	if err != nil {
		log.WithError(err).Error("Failed to resolve user")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	signed, err := IssueToken(user)
	if err != nil {
		log.WithError(err).Error("Failed to create JWT")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	log.WithField("subject", user.Subject).Info("User signed in")
	http.Redirect(w, r, "/?token="+url.QueryEscape(signed), http.StatusTemporaryRedirect)
}

// IssueToken signs a token for user valid for a week.
func IssueToken(user *core.User) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("JWT_SECRET is not set")
	}
	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (*AppClaims, error) {
	if len(jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
