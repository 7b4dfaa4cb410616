package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// BindOutcome is the result of a bind decision.
type BindOutcome int

const (
	BindSuccess BindOutcome = iota
	BindFailure
	BindMisconfigured
)

// String returns string representation of the bind outcome.
func (o BindOutcome) String() string {
	switch o {
	case BindSuccess:
		return "success"
	case BindFailure:
		return "failure"
	case BindMisconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// BindMode records which precedence rule ResolveAndBind applied.
type BindMode int

const (
	BindModeNone BindMode = iota
	BindModeUserDN        // Per-user DN with the caller's password
	BindModeUserDNFixed   // Per-user DN with the configured password
	BindModeService       // Literal DN with the configured password
	BindModeAnonymous     // No DN, no password
)

// String returns string representation of the bind mode.
func (m BindMode) String() string {
	switch m {
	case BindModeUserDN:
		return "user_dn"
	case BindModeUserDNFixed:
		return "user_dn_fixed_password"
	case BindModeService:
		return "service"
	case BindModeAnonymous:
		return "anonymous"
	default:
		return "none"
	}
}

// BindType is the configuration tag selecting a bind strategy.
type BindType string

const (
	BindTypeLDAP            BindType = "ldap"
	BindTypeActiveDirectory BindType = "activedirectory"
)

// BindTypes lists the supported bind strategy tags.
func BindTypes() []string {
	return []string{string(BindTypeLDAP), string(BindTypeActiveDirectory)}
}

// ParseBindType resolves a configuration tag, case-insensitively.
func ParseBindType(tag string) (BindType, error) {
	switch BindType(strings.ToLower(strings.TrimSpace(tag))) {
	case BindTypeLDAP, "":
		return BindTypeLDAP, nil
	case BindTypeActiveDirectory, "active_directory", "ad":
		return BindTypeActiveDirectory, nil
	default:
		return "", NewConfigError("type", fmt.Sprintf("unknown bind type %q (supported: %s)", tag, strings.Join(BindTypes(), ", ")))
	}
}

// BindStrategy decides how to bind before searching, and verifies a located
// entry's credential.
type BindStrategy interface {
	// ResolveAndBind performs exactly one of per-user, service or anonymous bind.
	ResolveAndBind(ctx context.Context, conn Conn, username, password string) (BindOutcome, error)

	// VerifyCredential binds with the entry's DN and the supplied password.
	VerifyCredential(ctx context.Context, conn Conn, dn, password string) (BindOutcome, error)

	// FilteredUsername escapes a username for use in a search filter.
	FilteredUsername(username string) string

	// LastMode returns the mode used by the most recent ResolveAndBind.
	LastMode() BindMode
}

// NewBindStrategy returns the strategy selected by the configuration's tag.
func NewBindStrategy(config *DirectoryConfig) (BindStrategy, error) {
	bindType, err := ParseBindType(string(config.Type))
	if err != nil {
		return nil, err
	}

	base := ldapBind{config: config.Bind}
	if config.Bind.Kerberos.Enabled() {
		base.spn = servicePrincipalName(config)
	}

	switch bindType {
	case BindTypeLDAP:
		return &base, nil
	case BindTypeActiveDirectory:
		base.userDN = adBindName
		return &activeDirectoryBind{ldapBind: base}, nil
	default:
		return nil, NewConfigError("type", fmt.Sprintf("unknown bind type %q", config.Type))
	}
}

// ldapBind binds against a generic LDAP server.
//
// Settings example for anonymous binding:
//
//	bind { anonymous = true }
//
// Settings example for a service account:
//
//	bind { dn = "uid=admin,dc=example,dc=com", password = "secret" }
//
// Settings example for binding as the user (the placeholder is replaced by
// the username):
//
//	bind { dn = "uid=%s,ou=Users,dc=example,dc=com" }
type ldapBind struct {
	config BindConfig
	mode   BindMode
	spn    string // set when fixed-password binds use Kerberos

	// userDN renders the per-user bind name; nil means the generic template.
	userDN func(template, username string) string
}

// ResolveAndBind applies the first matching rule:
//  1. username, password and DN template given, no fixed password: user DN + caller's password
//  2. username, DN template and fixed password given: user DN + fixed password
//  3. fixed password configured: literal DN + fixed password
//  4. anonymous enabled: anonymous bind
//  5. otherwise: misconfigured
//
// Rules 2 and 3 bind over GSSAPI when bind.kerberos is configured.
func (b *ldapBind) ResolveAndBind(ctx context.Context, conn Conn, username, password string) (BindOutcome, error) {
	fixedPassword := b.config.Password
	template := b.config.DN

	switch {
	case username != "" && password != "" && template != "" && fixedPassword == "":
		b.mode = BindModeUserDN
		return b.bindWithDN(ctx, conn, b.bindName(username), password)
	case username != "" && template != "" && fixedPassword != "":
		b.mode = BindModeUserDNFixed
		return b.bindWithFixedPassword(ctx, conn, b.bindName(username))
	case fixedPassword != "":
		b.mode = BindModeService
		return b.bindWithFixedPassword(ctx, conn, template)
	case b.config.Anonymous:
		b.mode = BindModeAnonymous
		return b.bindAnonymously(ctx, conn)
	default:
		b.mode = BindModeNone
		tflog.SubsystemError(ctx, "ldap", "No bind rule matched the configuration", map[string]any{
			"anonymous":        b.config.Anonymous,
			"dn_configured":    template != "",
			"password_present": password != "",
			"username_present": username != "",
		})
		return BindMisconfigured, NewConfigError("bind", "no bind rule applies: configure bind.dn, bind.password or bind.anonymous")
	}
}

// VerifyCredential confirms the password against the located entry.
func (b *ldapBind) VerifyCredential(ctx context.Context, conn Conn, dn, password string) (BindOutcome, error) {
	// An empty password would turn the simple bind into an unauthenticated
	// one, which most servers accept.
	if dn == "" || password == "" {
		tflog.SubsystemDebug(ctx, "ldap", "Refusing to verify an empty DN or password")
		return BindFailure, NewLDAPError("verify", ErrAuthenticationFailed)
	}

	return b.bindWithDN(ctx, conn, dn, password)
}

// FilteredUsername escapes filter metacharacters in the username.
func (b *ldapBind) FilteredUsername(username string) string {
	return EscapeFilterValue(username)
}

func (b *ldapBind) LastMode() BindMode {
	return b.mode
}

// bindName renders the per-user bind name from the DN template.
func (b *ldapBind) bindName(username string) string {
	if b.userDN != nil {
		return b.userDN(b.config.DN, username)
	}
	return renderDNTemplate(b.config.DN, username)
}

// bindWithFixedPassword binds as name with the configured password.
func (b *ldapBind) bindWithFixedPassword(ctx context.Context, conn Conn, name string) (BindOutcome, error) {
	if b.config.Kerberos.Enabled() {
		return b.bindWithKerberos(ctx, conn, name, b.config.Password)
	}
	return b.bindWithDN(ctx, conn, name, b.config.Password)
}

func (b *ldapBind) bindWithDN(ctx context.Context, conn Conn, dn, password string) (BindOutcome, error) {
	start := time.Now()
	fields := map[string]any{
		"mode":    b.mode.String(),
		"bind_dn": dn,
	}

	tflog.SubsystemDebug(ctx, "ldap", "Performing simple bind", fields)

	if err := conn.Bind(dn, password); err != nil {
		fields["duration_ms"] = time.Since(start).Milliseconds()
		logDirectoryError(ctx, "simple_bind", err, fields)
		return BindFailure, NewLDAPError("bind", err)
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()
	tflog.SubsystemDebug(ctx, "ldap", "Simple bind successful", fields)
	return BindSuccess, nil
}

func (b *ldapBind) bindAnonymously(ctx context.Context, conn Conn) (BindOutcome, error) {
	tflog.SubsystemDebug(ctx, "ldap", "Performing anonymous bind")

	if err := conn.UnauthenticatedBind(); err != nil {
		logDirectoryError(ctx, "anonymous_bind", err, map[string]any{"mode": b.mode.String()})
		return BindFailure, NewLDAPError("anonymous_bind", err)
	}

	return BindSuccess, nil
}

// renderDNTemplate substitutes the DN-escaped username into template. A
// template without a placeholder is returned unchanged.
func renderDNTemplate(template, username string) string {
	if !hasPlaceholder(template) {
		return template
	}
	return substitutePlaceholder(template, EscapeDNValue(username))
}

// activeDirectoryBind binds against Active Directory, which also accepts
// "DOMAIN\user" and "user@domain" as simple bind names. A template that
// contains no "=" is treated as one of those forms, e.g. "EXAMPLE\%s" or
// "%s@example.com"; any other template behaves as for ldapBind.
type activeDirectoryBind struct {
	ldapBind
}

// adBindName renders a down-level logon name or UPN, or falls back to a DN.
func adBindName(template, username string) string {
	if strings.Contains(template, "=") {
		return renderDNTemplate(template, username)
	}
	// Down-level and UPN names are not DNs; only strip characters that
	// would change the account being named.
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '@', 0:
			return -1
		}
		return r
	}, username)
	if !hasPlaceholder(template) {
		return template
	}
	return substitutePlaceholder(template, clean)
}
