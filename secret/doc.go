// Package secret resolves secret references in payrelay configuration, such
// as the webhook HMAC secret, the admin JWT key and the payments API token.
//
// A configured value is one of:
//   - env:NAME             the value of environment variable NAME
//   - file:/path/to/file   the file contents, trailing newline trimmed
//   - secretref:<provider>:<ref>, resolved by a registered Provider, either
//     as the whole value or inline (Bearer secretref:env:TOKEN)
//   - anything else, used literally after strict ${VAR} expansion
//
// NewDefaultResolver registers the env and file providers.
package secret
