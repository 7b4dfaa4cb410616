package ldap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
)

// KerberosConfig moves binds made with the configured password from a simple
// bind to a GSSAPI (SASL) bind, for directories that refuse simple binds from
// service accounts. The caller's own password is always verified with a
// simple bind.
//
// Settings example:
//
//	bind {
//	  dn       = "svc-ldap@EXAMPLE.COM"
//	  password = "secret"
//	  kerberos { realm = "EXAMPLE.COM" }
//	}
type KerberosConfig struct {
	Realm            string // Enables Kerberos; realm for principals given without one
	ConfigFile       string `default:"/etc/krb5.conf"`
	ServicePrincipal string // Directory SPN; defaults to ldap/<host>
}

// Enabled reports whether fixed-password binds use GSSAPI.
func (k KerberosConfig) Enabled() bool {
	return k.Realm != ""
}

// validate checks that bind names a principal with a password and that the
// krb5.conf file loads.
func (k KerberosConfig) validate(bind BindConfig) error {
	if bind.Password == "" {
		return NewConfigError("kerberos.realm", "Kerberos binds require bind.password")
	}

	if bind.DN == "" || hasPlaceholder(bind.DN) || strings.Contains(bind.DN, "=") {
		return NewConfigError("bind.dn", fmt.Sprintf("with Kerberos, bind.dn must be a principal such as svc-ldap or svc-ldap@%s, got %q", k.Realm, bind.DN))
	}

	if _, err := krb5config.Load(k.ConfigFile); err != nil {
		return NewConfigError("kerberos.config_file", fmt.Sprintf("cannot load Kerberos configuration %s: %s", k.ConfigFile, err))
	}

	return nil
}

// splitPrincipal separates "user@REALM", using the configured realm when the
// principal carries none.
func (k KerberosConfig) splitPrincipal(principal string) (string, string) {
	if at := strings.LastIndex(principal, "@"); at > 0 && at < len(principal)-1 {
		return principal[:at], principal[at+1:]
	}
	return strings.TrimSuffix(principal, "@"), k.Realm
}

// servicePrincipalName returns the SPN of the directory service, ldap/<host>
// unless overridden.
func servicePrincipalName(config *DirectoryConfig) string {
	if spn := config.Bind.Kerberos.ServicePrincipal; spn != "" {
		return spn
	}

	host := config.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ldap/" + host
}

// bindWithKerberos obtains a ticket for principal with password and binds
// with it over GSSAPI.
func (b *ldapBind) bindWithKerberos(ctx context.Context, conn Conn, principal, password string) (BindOutcome, error) {
	start := time.Now()
	kerberos := b.config.Kerberos
	username, realm := kerberos.splitPrincipal(principal)

	fields := map[string]any{
		"mode":      b.mode.String(),
		"principal": username + "@" + realm,
		"spn":       b.spn,
	}

	tflog.SubsystemDebug(ctx, "ldap", "Performing GSSAPI bind", fields)

	client, err := gssapi.NewClientWithPassword(username, realm, password, kerberos.ConfigFile, krb5client.DisablePAFXFAST(true))
	if err != nil {
		logDirectoryError(ctx, "gssapi_client", err, fields)
		return BindFailure, NewLDAPError("gssapi_bind", fmt.Errorf("failed to create Kerberos client: %w", err))
	}
	defer func() {
		_ = client.Close()
	}()

	if err := conn.GSSAPIBind(client, b.spn); err != nil {
		fields["duration_ms"] = time.Since(start).Milliseconds()
		logDirectoryError(ctx, "gssapi_bind", err, fields)
		return BindFailure, NewLDAPError("gssapi_bind", err)
	}

	tflog.SubsystemDebug(ctx, "ldap", "GSSAPI bind succeeded", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return BindSuccess, nil
}
