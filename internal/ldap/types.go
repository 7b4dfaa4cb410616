package ldap

import (
	"context"
	"crypto/tls"
	"time"
)

// DirectoryConfig holds everything a single authentication attempt needs to
// reach the directory and resolve a user entry.
type DirectoryConfig struct {
	// Connection settings
	Host    string        `default:"localhost"`
	Port    int           `default:"389"`
	BaseDN  string        // Base DN for account searches
	Timeout time.Duration `default:"30s"` // Deadline for a whole attempt

	// Search settings
	Filter     FilterConfig
	Attributes []string // Attributes to return; empty means all user attributes

	// Bind settings
	Type BindType `default:"ldap"`
	Bind BindConfig

	// Protocol options, keyed by option name (see protocolOptions)
	Options map[string]string

	// TLS settings
	UseTLS     bool        // Dial ldaps://
	StartTLS   bool        // Upgrade a plain connection with StartTLS
	TLSConfig  *tls.Config // Custom TLS configuration
	TLSCACert  string      // CA certificate content (PEM)
	ServerName string      // Override for TLS server name verification
}

// FilterConfig holds search filter templates.
type FilterConfig struct {
	// Account is the account search filter; "?" or "%s" is replaced by the
	// escaped username, e.g. "(uid=?)".
	Account string `default:"(uid=?)"`
}

// BindConfig describes how the session binds before searching.
type BindConfig struct {
	Anonymous bool
	DN        string // Literal DN or template with a "?"/"%s" placeholder
	Password  string // Fixed bind password (service account)
	Kerberos  KerberosConfig
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *DirectoryConfig {
	cfg := &DirectoryConfig{}
	_ = applyDefaults(cfg)
	return cfg
}

// Entry is a directory entry resolved for an authenticated user.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// GetAttributeValues returns the values of the named attribute.
func (e *Entry) GetAttributeValues(name string) []string {
	if e == nil {
		return nil
	}
	return e.Attributes[name]
}

// GetAttributeValue returns the first value of the named attribute, or "".
func (e *Entry) GetAttributeValue(name string) string {
	values := e.GetAttributeValues(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Authenticator resolves a directory entry for a username/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*Entry, error)
}

// ServerInfo is the subset of the root DSE reported by Ping.
type ServerInfo struct {
	Host                 string
	Port                 int
	Online               bool
	VendorName           string
	VendorVersion        string
	SupportedLDAPVersion []string
	NamingContexts       []string
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns the RFC 4516 name of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// SearchRequest encapsulates the search parameters sent over a Conn.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}
