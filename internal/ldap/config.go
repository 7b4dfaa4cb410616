package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// Username placeholders accepted in DN and filter templates.
const (
	placeholderSprintf  = "%s"
	placeholderQuestion = "?"
)

// applyDefaults fills zero-valued fields from their struct tags.
func applyDefaults(cfg *DirectoryConfig) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("failed to set default values: %w", err)
	}
	return nil
}

// Validate normalizes the configuration and checks everything that can be
// checked without contacting the directory. Any failure is a configuration
// error.
func (c *DirectoryConfig) Validate() error {
	if c == nil {
		return NewConfigError("config", "configuration is nil")
	}

	if err := applyDefaults(c); err != nil {
		return NewConfigError("config", err.Error())
	}

	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		return NewConfigError("host", "host cannot be empty")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return NewConfigError("port", fmt.Sprintf("port %d is out of range", c.Port))
	}

	if c.Timeout <= 0 {
		return NewConfigError("timeout", "timeout must be positive")
	}

	if c.BaseDN != "" {
		if _, err := ldap.ParseDN(c.BaseDN); err != nil {
			return NewConfigError("base_dn", fmt.Sprintf("invalid base DN %q: %s", c.BaseDN, err))
		}
	}

	if err := ValidateFilterTemplate(c.Filter.Account); err != nil {
		return NewConfigError("filter.account", err.Error())
	}

	bindType, err := ParseBindType(string(c.Type))
	if err != nil {
		return err
	}
	c.Type = bindType

	if err := ValidateBindTemplate(c.Bind.DN); err != nil {
		return NewConfigError("bind.dn", err.Error())
	}

	if c.Bind.Kerberos.Enabled() {
		if err := c.Bind.Kerberos.validate(c.Bind); err != nil {
			return err
		}
	}

	if c.UseTLS && c.StartTLS {
		return NewConfigError("start_tls", "start_tls cannot be combined with use_tls")
	}

	if _, err := resolveProtocolOptions(c.Options); err != nil {
		return err
	}

	return nil
}

// tlsConfig builds the TLS configuration used for ldaps:// and StartTLS.
func (c *DirectoryConfig) tlsConfig() (*tls.Config, error) {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.ServerName == "" {
		cfg.ServerName = c.ServerName
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}

	if c.TLSCACert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(c.TLSCACert)) {
			return nil, NewConfigError("tls_ca_cert", "no certificates found in CA certificate content")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// ValidateFilterTemplate checks that template holds exactly one username
// placeholder and compiles as a search filter once it is substituted.
func ValidateFilterTemplate(template string) error {
	if placeholderCount(template) != 1 {
		return fmt.Errorf("account filter must contain exactly one username placeholder (? or %%s)")
	}

	if _, err := ldap.CompileFilter(substitutePlaceholder(template, "x")); err != nil {
		return fmt.Errorf("invalid account filter %q: %w", template, err)
	}

	return nil
}

// ValidateBindTemplate checks a bind DN or bind name template. Templates
// containing "=" must parse as a DN once substituted; anything else is a
// bind name such as DOMAIN\%s or %s@domain.
func ValidateBindTemplate(template string) error {
	if placeholderCount(template) > 1 {
		return fmt.Errorf("bind DN template may contain at most one username placeholder")
	}

	if strings.Contains(template, "=") {
		if _, err := ldap.ParseDN(substitutePlaceholder(template, "x")); err != nil {
			return fmt.Errorf("invalid bind DN template %q: %w", template, err)
		}
	}

	return nil
}

// placeholderCount counts username placeholders of either style.
func placeholderCount(template string) int {
	return strings.Count(template, placeholderSprintf) + strings.Count(template, placeholderQuestion)
}

// hasPlaceholder reports whether the template contains a username placeholder.
func hasPlaceholder(template string) bool {
	return placeholderCount(template) > 0
}

// substitutePlaceholder replaces the username placeholder in template with value.
// The value must already be escaped for the template's grammar.
func substitutePlaceholder(template, value string) string {
	if strings.Contains(template, placeholderSprintf) {
		return strings.Replace(template, placeholderSprintf, value, 1)
	}
	return strings.Replace(template, placeholderQuestion, value, 1)
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is makes every ConfigError match ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
