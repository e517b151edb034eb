package credentials

import "slices"

// Credentials is the persisted identity of the signed-in user. The access and
// refresh tokens travel together: a record holding only one of them is treated
// as anonymous.
type Credentials struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles"`
	Enabled      bool     `json:"enabled"`
}

// Complete reports whether both halves of the token pair are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Anonymous reports whether the credentials are unusable for authenticated
// calls.
func (c Credentials) Anonymous() bool {
	return !c.Complete()
}

// HasRole reports whether the user carries the given role.
func (c Credentials) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// WithTokenPair returns a copy carrying a new token pair. Both values are
// replaced together so observers never see a half-updated pair.
func (c Credentials) WithTokenPair(accessToken, refreshToken string) Credentials {
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	return c
}
