package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// SessionState tracks how far an authentication attempt progressed.
type SessionState int

const (
	StateUnconnected SessionState = iota
	StateConnected
	StateBound
	StateEntryFound
	StateVerified
	StateResolved
	StateFailed
)

// String returns string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateBound:
		return "bound"
	case StateEntryFound:
		return "entry_found"
	case StateVerified:
		return "verified"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// errNoUniqueEntry is the cause recorded when a search does not return
// exactly one entry.
var errNoUniqueEntry = errors.New("account search did not return exactly one entry")

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer overrides the transport used to reach the directory.
func WithDialer(dialer Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// Session authenticates users against one directory configuration. Every
// call to Authenticate opens, uses and closes its own connection, so a
// Session may be shared between goroutines.
type Session struct {
	config   DirectoryConfig
	settings ProtocolSettings
	dialer   Dialer
}

// NewSession validates config and returns a Session for it. The caller's
// configuration is copied and never modified.
func NewSession(config *DirectoryConfig, opts ...SessionOption) (*Session, error) {
	if config == nil {
		return nil, NewConfigError("config", "configuration is nil")
	}

	cfg := *config
	cfg.Attributes = append([]string(nil), config.Attributes...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings, err := resolveProtocolOptions(cfg.Options)
	if err != nil {
		return nil, err
	}

	s := &Session{
		config:   cfg,
		settings: *settings,
		dialer:   NewDialer(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Config returns a copy of the validated configuration.
func (s *Session) Config() DirectoryConfig {
	return s.config
}

// Authenticate binds, locates the entry for username, verifies password
// against that entry's DN and returns the entry as seen after verification.
//
// Errors are always *AuthError; use errors.Is with ErrConfiguration,
// ErrAuthenticationFailed or ErrTransport to tell them apart.
func (s *Session) Authenticate(ctx context.Context, username, password string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ctx = tflog.SetField(ctx, "ldap_host", s.config.Host)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, "password")

	start := time.Now()
	state := StateUnconnected

	fail := func(kind FailureKind, cause error) (*Entry, error) {
		authErr := newAuthError(kind, state, cause)
		logAttempt(ctx, "failure", map[string]any{
			"username":    username,
			"kind":        kind.String(),
			"state":       state.String(),
			"error":       authErr.Diagnostic(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, authErr
	}

	logAttempt(ctx, "attempt", map[string]any{
		"username": username,
		"type":     string(s.config.Type),
	})

	conn, err := s.dialer.Dial(ctx, &s.config, &s.settings)
	if err != nil {
		if IsConfigError(err) {
			return fail(KindConfiguration, err)
		}
		return fail(KindTransport, err)
	}
	defer closeConn(ctx, conn)

	// Unblock any in-flight request once the attempt's deadline passes.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetTimeout(s.requestTimeout())
	state = StateConnected

	strategy, err := NewBindStrategy(&s.config)
	if err != nil {
		return fail(KindConfiguration, err)
	}

	outcome, err := strategy.ResolveAndBind(ctx, conn, username, password)
	switch outcome {
	case BindMisconfigured:
		return fail(KindConfiguration, err)
	case BindFailure:
		return fail(s.classifyBindFailure(ctx, err), err)
	}
	state = StateBound

	tflog.SubsystemDebug(ctx, "ldap", "Initial bind complete", map[string]any{
		"mode": strategy.LastMode().String(),
	})

	filter := s.accountFilter(strategy, username)

	candidate, err := s.findEntry(ctx, conn, filter)
	if err != nil {
		return fail(s.classifySearchFailure(ctx, err, false), err)
	}
	state = StateEntryFound

	outcome, err = strategy.VerifyCredential(ctx, conn, candidate.DN, password)
	if outcome != BindSuccess {
		return fail(s.classifyBindFailure(ctx, err), err)
	}
	state = StateVerified

	// The connection is now bound as the user; search again so the result
	// reflects what that identity can see.
	resolved, err := s.findEntry(ctx, conn, filter)
	if err != nil {
		return fail(s.classifySearchFailure(ctx, err, true), err)
	}

	if !sameDN(candidate.DN, resolved.DN) {
		return fail(KindCredential, fmt.Errorf("re-search returned %q, verified %q", resolved.DN, candidate.DN))
	}
	state = StateResolved

	logAttempt(ctx, "success", map[string]any{
		"username":    username,
		"dn":          resolved.DN,
		"mode":        strategy.LastMode().String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return NewEntry(resolved), nil
}

// Ping connects to the directory and reads the root DSE.
func (s *Session) Ping(ctx context.Context) (*ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	info := &ServerInfo{
		Host: s.config.Host,
		Port: s.config.Port,
	}

	conn, err := s.dialer.Dial(ctx, &s.config, &s.settings)
	if err != nil {
		return info, err
	}
	defer closeConn(ctx, conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetTimeout(s.requestTimeout())

	var entries []*ldap.Entry
	err = timed(ctx, "root_dse", nil, func() error {
		var searchErr error
		entries, searchErr = conn.Search(&SearchRequest{
			Scope:      ScopeBaseObject,
			Filter:     "(objectClass=*)",
			Attributes: []string{"supportedLDAPVersion", "vendorName", "vendorVersion", "namingContexts"},
			SizeLimit:  1,
		})
		return searchErr
	})
	if err != nil {
		return info, NewLDAPError("root_dse", err)
	}

	info.Online = true
	if len(entries) == 0 {
		return info, nil
	}

	rootDSE := entries[0]
	info.VendorName = rootDSE.GetAttributeValue("vendorName")
	info.VendorVersion = rootDSE.GetAttributeValue("vendorVersion")
	info.SupportedLDAPVersion = rootDSE.GetAttributeValues("supportedLDAPVersion")
	info.NamingContexts = rootDSE.GetAttributeValues("namingContexts")

	return info, nil
}

// findEntry searches the base DN and requires exactly one result.
func (s *Session) findEntry(ctx context.Context, conn Conn, filter string) (*ldap.Entry, error) {
	req := &SearchRequest{
		BaseDN:       s.config.BaseDN,
		Scope:        ScopeWholeSubtree,
		Filter:       filter,
		Attributes:   s.config.Attributes,
		SizeLimit:    s.searchSizeLimit(),
		TimeLimit:    s.settings.TimeLimit,
		DerefAliases: s.settings.Deref,
	}

	fields := map[string]any{
		"base_dn": req.BaseDN,
		"filter":  req.Filter,
		"scope":   req.Scope.String(),
	}

	var entries []*ldap.Entry
	err := timed(ctx, "account_search", fields, func() error {
		var searchErr error
		entries, searchErr = conn.Search(req)
		return searchErr
	})
	if err != nil {
		return nil, NewLDAPError("search", err)
	}

	if len(entries) != 1 {
		tflog.SubsystemDebug(ctx, "ldap", "Account search did not yield a unique entry", map[string]any{
			"result_count": len(entries),
		})
		return nil, errNoUniqueEntry
	}

	return entries[0], nil
}

// accountFilter renders the account filter for username.
func (s *Session) accountFilter(strategy BindStrategy, username string) string {
	return substitutePlaceholder(s.config.Filter.Account, strategy.FilteredUsername(username))
}

// searchSizeLimit defaults to two entries, which is enough to tell a unique
// match from an ambiguous one.
func (s *Session) searchSizeLimit() int {
	if s.settings.SizeLimit > 0 {
		return s.settings.SizeLimit
	}
	return 2
}

func (s *Session) requestTimeout() time.Duration {
	if s.settings.OpTimeout > 0 {
		return s.settings.OpTimeout
	}
	return s.config.Timeout
}

// classifyBindFailure separates rejected credentials from a directory that
// could not be reached.
func (s *Session) classifyBindFailure(ctx context.Context, err error) FailureKind {
	if ctx.Err() != nil {
		return KindTransport
	}
	if IsInvalidCredentials(err) {
		return KindCredential
	}
	switch GetErrorCategory(err) {
	case ErrorCategoryConnection, ErrorCategoryServer:
		return KindTransport
	default:
		return KindCredential
	}
}

// classifySearchFailure maps a failed account search to a failure kind. Once
// the password is verified, a search the user may not run (noSuchObject,
// insufficientAccessRights) means the identity cannot see its own entry.
func (s *Session) classifySearchFailure(ctx context.Context, err error, verified bool) FailureKind {
	if ctx.Err() != nil {
		return KindTransport
	}
	if errors.Is(err, errNoUniqueEntry) {
		return KindCredential
	}
	if verified {
		switch GetErrorCategory(err) {
		case ErrorCategoryNotFound, ErrorCategoryPermission:
			return KindCredential
		}
	}
	return KindTransport
}

// sameDN compares two DNs semantically, falling back to a case-insensitive
// string comparison when either does not parse.
func sameDN(a, b string) bool {
	parsedA, errA := ldap.ParseDN(a)
	parsedB, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return parsedA.EqualFold(parsedB)
}
