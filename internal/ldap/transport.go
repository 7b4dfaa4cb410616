package ldap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Conn is the directory transport used by a single authentication attempt.
type Conn interface {
	// Bind performs a simple bind with a DN and password.
	Bind(dn, password string) error

	// GSSAPIBind performs a SASL GSSAPI bind against the service principal.
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal string) error

	// UnauthenticatedBind performs an anonymous bind.
	UnauthenticatedBind() error

	// Search runs a search and returns the matching entries.
	Search(req *SearchRequest) ([]*ldap.Entry, error)

	// SetTimeout sets the per-request timeout.
	SetTimeout(timeout time.Duration)

	// Close releases the connection.
	Close() error
}

// Dialer opens a Conn for a configuration.
type Dialer interface {
	Dial(ctx context.Context, config *DirectoryConfig, settings *ProtocolSettings) (Conn, error)
}

// NewDialer returns the go-ldap backed Dialer.
func NewDialer() Dialer {
	return &standardDialer{}
}

type standardDialer struct{}

// Dial connects to the configured host, upgrading to TLS when configured.
func (d *standardDialer) Dial(ctx context.Context, config *DirectoryConfig, settings *ProtocolSettings) (Conn, error) {
	serverURL := ServerURL(config)

	tlsConfig, err := config.tlsConfig()
	if err != nil {
		return nil, err
	}
	if settings.SkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	netDialer := &net.Dialer{Timeout: config.Timeout}
	if settings.NetworkTimeout > 0 {
		netDialer.Timeout = settings.NetworkTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		netDialer.Deadline = deadline
	}

	logConnection(ctx, "dial", serverURL, nil)

	opts := []ldap.DialOpt{ldap.DialWithDialer(netDialer)}
	if config.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(serverURL, opts...)
	if err != nil {
		logConnection(ctx, "dial", serverURL, err)
		return nil, NewLDAPError("connect", fmt.Errorf("failed to connect to %s: %w", serverURL, err))
	}

	if config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			logConnection(ctx, "start_tls", serverURL, err)
			return nil, NewLDAPError("start_tls", err)
		}
	}

	logConnection(ctx, "connected", serverURL, nil)

	return &goLDAPConn{conn: conn}, nil
}

// ServerURL returns the ldap:// or ldaps:// URL for the configured host.
func ServerURL(config *DirectoryConfig) string {
	scheme := "ldap"
	if config.UseTLS {
		scheme = "ldaps"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
	}
	return u.String()
}

// goLDAPConn adapts *ldap.Conn to Conn.
type goLDAPConn struct {
	conn *ldap.Conn
}

func (c *goLDAPConn) Bind(dn, password string) error {
	return c.conn.Bind(dn, password)
}

func (c *goLDAPConn) GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal string) error {
	return c.conn.GSSAPIBind(client, servicePrincipal, "")
}

func (c *goLDAPConn) UnauthenticatedBind() error {
	return c.conn.UnauthenticatedBind("")
}

func (c *goLDAPConn) Search(req *SearchRequest) ([]*ldap.Entry, error) {
	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false, // TypesOnly
		req.Filter,
		req.Attributes,
		nil, // Controls
	)

	result, err := c.conn.Search(ldapReq)
	if err != nil {
		// A size limit hit still means more than one candidate; hand back
		// what we have so the caller can treat it as ambiguous.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil {
			return result.Entries, nil
		}
		return nil, err
	}

	return result.Entries, nil
}

func (c *goLDAPConn) SetTimeout(timeout time.Duration) {
	c.conn.SetTimeout(timeout)
}

func (c *goLDAPConn) Close() error {
	c.conn.Close()
	return nil
}

// closeConn closes a connection and logs, but does not return, any error.
func closeConn(ctx context.Context, conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		tflog.SubsystemDebug(ctx, "ldap", "Error closing connection", map[string]any{
			"error": err.Error(),
		})
	}
}
