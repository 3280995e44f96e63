// Package identity models the caller of a registry operation.
//
// Session resolution and privilege checks happen in an outer layer; by the
// time a request reaches the registry it carries exactly one resolved
// principal, either an API key or an interactive user. The tagged variant
// here replaces field-sniffing on a loose user object.
package identity

import "fmt"

type Kind int

const (
	KindAPIKey Kind = iota
	KindUser
)

// Principal identifies who is performing a request.
//
// For API keys, Key is the key id and Title its display name.
// For users, Username is the login name.
type Principal struct {
	Kind     Kind
	Key      string
	Title    string
	Username string
}

func APIKey(key, title string) Principal {
	return Principal{Kind: KindAPIKey, Key: key, Title: title}
}

func User(username string) Principal {
	return Principal{Kind: KindUser, Username: username}
}

// RunSource is the human-readable invocation label stamped onto manually
// launched jobs.
func (p Principal) RunSource() string {
	if p.Kind == KindAPIKey {
		return fmt.Sprintf("API Key (%s)", p.Title)
	}
	return fmt.Sprintf("Manual (%s)", p.Username)
}

// Actor is the short identifier used in activity records.
func (p Principal) Actor() string {
	if p.Kind == KindAPIKey {
		return p.Title
	}
	return p.Username
}
