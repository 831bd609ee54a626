package protocol

import "strings"

// Endpoint paths of a deployment that serves the sign and join APIs under
// one base URL, as the development server does.
const (
	ServerParamsPath   = "/v1/serverParams"
	RegisterClientPath = "/v1/registerClient"
	GetTokensPath      = "/v1/getTokens"
	JoinEndpointPath   = "/v1/join"
	KeyConfigPath      = "/v1/ohttp-keys"
)

// SetBaseURL points every endpoint URL at the standard paths under base.
// KeyConfigHex is left alone and still takes precedence over KeyConfigURL.
func (c *Config) SetBaseURL(base string) {
	base = strings.TrimSuffix(base, "/")
	c.ServerParamsURL = base + ServerParamsPath
	c.RegisterClientURL = base + RegisterClientPath
	c.GetTokensURL = base + GetTokensPath
	c.JoinURL = base + JoinEndpointPath
	c.KeyConfigURL = base + KeyConfigPath
}
