package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"velofood-client-go/internal/domain/credentials"
	credstore "velofood-client-go/internal/domain/credentials/store"
	platformerrors "velofood-client-go/internal/platform/errors"
)

// Login exchanges a username/password for a token pair and persists the
// resulting credentials.
func (c *Client) Login(ctx context.Context, username, password string) (credentials.Credentials, error) {
	doc, status, err := c.postForm(ctx, "/api/login_check", url.Values{
		"_username": {username},
		"_password": {password},
	})
	if err != nil {
		return credentials.Credentials{}, err
	}
	if status < 200 || status >= 300 {
		return credentials.Credentials{}, platformerrors.Wrap(platformerrors.KindClient, "api.login", "login rejected",
			&APIError{StatusCode: status, Body: doc})
	}
	return c.saveUserData(ctx, doc)
}

// RegistrationData is the payload for account creation.
type RegistrationData struct {
	Username string
	Password string
	Email    string
}

// Register creates an account and persists the returned credentials. Servers
// requiring email confirmation return the account with enabled=false.
func (c *Client) Register(ctx context.Context, data RegistrationData) (credentials.Credentials, error) {
	doc, status, err := c.postForm(ctx, "/api/register", url.Values{
		"_username": {data.Username},
		"_password": {data.Password},
		"_email":    {data.Email},
	})
	if err != nil {
		return credentials.Credentials{}, err
	}
	if status < 200 || status >= 300 {
		return credentials.Credentials{}, platformerrors.Wrap(platformerrors.KindClient, "api.register", "registration rejected",
			&APIError{StatusCode: status, Body: doc})
	}
	if doc.String("username") == "" {
		doc["username"] = data.Username
	}
	if doc.String("email") == "" {
		doc["email"] = data.Email
	}
	return c.saveUserData(ctx, doc)
}

// ConfirmRegistration validates an email confirmation token and persists the
// now-enabled credentials.
func (c *Client) ConfirmRegistration(ctx context.Context, token string) (credentials.Credentials, error) {
	doc, err := c.Get(ctx, "/api/register/confirm/"+token, Anonymous())
	if err != nil {
		return credentials.Credentials{}, err
	}
	return c.saveUserData(ctx, doc)
}

// ResetPassword asks the backend to send a password reset email.
func (c *Client) ResetPassword(ctx context.Context, username string) error {
	doc, status, err := c.postForm(ctx, "/api/resetting/send-email", url.Values{
		"username": {username},
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return platformerrors.Wrap(platformerrors.KindClient, "api.reset_password", "reset rejected",
			&APIError{StatusCode: status, Body: doc})
	}
	return nil
}

// SetNewPassword completes a password reset and persists the returned
// credentials.
func (c *Client) SetNewPassword(ctx context.Context, token, password string) (credentials.Credentials, error) {
	doc, status, err := c.postForm(ctx, "/api/resetting/reset/"+token, url.Values{
		"password": {password},
	})
	if err != nil {
		return credentials.Credentials{}, err
	}
	if status < 200 || status >= 300 {
		return credentials.Credentials{}, platformerrors.Wrap(platformerrors.KindClient, "api.set_password", "reset rejected",
			&APIError{StatusCode: status, Body: doc})
	}
	return c.saveUserData(ctx, doc)
}

// CheckToken verifies the stored access token against the backend.
func (c *Client) CheckToken(ctx context.Context) error {
	_, err := c.Get(ctx, "/api/token/check")
	return err
}

// Logout clears the persisted credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Credentials returns the currently stored credentials, or an anonymous set.
func (c *Client) Credentials(ctx context.Context) credentials.Credentials {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return credentials.Credentials{}
	}
	return creds
}

// exchangeRefreshToken performs the token refresh call and persists the new
// pair. It is invoked by the refresh coordinator only, which guarantees at
// most one outstanding call per client instance.
func (c *Client) exchangeRefreshToken(ctx context.Context) (string, error) {
	creds, err := c.store.Load(ctx)
	if err != nil || creds.RefreshToken == "" {
		return "", errors.New("no refresh token")
	}

	doc, status, err := c.postForm(ctx, "/api/token/refresh", url.Values{
		"refresh_token": {creds.RefreshToken},
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", errors.New(ResolveErrorMessage(doc))
	}

	token := doc.String("token")
	refreshToken := doc.String("refresh_token")
	if token == "" || refreshToken == "" {
		return "", errors.New("refresh response missing token pair")
	}

	c.logger.InfoTag(logTag, "storing new credentials")

	// Both halves of the pair are replaced in one save.
	if err := c.store.Save(ctx, creds.WithTokenPair(token, refreshToken)); err != nil {
		return "", err
	}
	return token, nil
}

// saveUserData persists a credential payload returned by the auth endpoints.
func (c *Client) saveUserData(ctx context.Context, doc Document) (credentials.Credentials, error) {
	enabled := true
	if _, ok := doc["enabled"]; ok {
		enabled = doc.Bool("enabled")
	}

	var roles []string
	if rawRoles, ok := doc["roles"].([]any); ok {
		for _, r := range rawRoles {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	creds := credentials.Credentials{
		AccessToken:  doc.String("token"),
		RefreshToken: doc.String("refresh_token"),
		Username:     doc.String("username"),
		Email:        doc.String("email"),
		Roles:        roles,
		Enabled:      enabled,
	}
	if creds.Anonymous() {
		return credentials.Credentials{}, platformerrors.New(platformerrors.KindServer, "api.credentials", "auth response missing token pair")
	}
	if err := c.store.Save(ctx, creds); err != nil {
		if errors.Is(err, credstore.ErrPartialTokenPair) {
			return credentials.Credentials{}, platformerrors.Wrap(platformerrors.KindServer, "api.credentials", "auth response missing token pair", err)
		}
		return credentials.Credentials{}, platformerrors.Wrap(platformerrors.KindStorage, "api.credentials", "persist credentials", err)
	}
	return creds, nil
}

// postForm sends a form-encoded POST without bearer credentials, as the auth
// endpoints require.
func (c *Client) postForm(ctx context.Context, uri string, values url.Values) (Document, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(uri), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindClient, "api.form", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindNetwork, "api.form", "no response received", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, platformerrors.Wrap(platformerrors.KindNetwork, "api.form", "read response body", err)
	}

	doc := Document{}
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &doc); err != nil {
			doc = Document{}
		}
	}
	return doc, resp.StatusCode, nil
}
