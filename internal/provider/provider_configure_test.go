package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// configureProvider runs Configure with the given attribute values; every
// other attribute is null.
func configureProvider(t *testing.T, values map[string]tftypes.Value) (*LDAPAuthProvider, *provider.ConfigureResponse) {
	t.Helper()

	ctx := context.Background()
	p := &LDAPAuthProvider{version: "test"}

	schemaResp := &provider.SchemaResponse{}
	p.Schema(ctx, provider.SchemaRequest{}, schemaResp)
	require.False(t, schemaResp.Diagnostics.HasError())

	objType, ok := schemaResp.Schema.Type().TerraformType(ctx).(tftypes.Object)
	require.True(t, ok)

	req := provider.ConfigureRequest{
		Config: tfsdk.Config{
			Schema: schemaResp.Schema,
			Raw:    objectValue(objType, values),
		},
	}
	resp := &provider.ConfigureResponse{}

	p.Configure(ctx, req, resp)
	return p, resp
}

func bindValue(anonymous *bool, dn, password *string) tftypes.Value {
	objType := tftypes.Object{AttributeTypes: map[string]tftypes.Type{
		"anonymous": tftypes.Bool,
		"dn":        tftypes.String,
		"password":  tftypes.String,
	}}

	values := map[string]tftypes.Value{}
	if anonymous != nil {
		values["anonymous"] = tftypes.NewValue(tftypes.Bool, *anonymous)
	}
	if dn != nil {
		values["dn"] = tftypes.NewValue(tftypes.String, *dn)
	}
	if password != nil {
		values["password"] = tftypes.NewValue(tftypes.String, *password)
	}
	return objectValue(objType, values)
}

func ptr[T any](v T) *T { return &v }

func sessionConfig(t *testing.T, resp *provider.ConfigureResponse) ldapclient.DirectoryConfig {
	t.Helper()

	require.False(t, resp.Diagnostics.HasError(), "configure diagnostics: %v", resp.Diagnostics)

	providerData, ok := resp.DataSourceData.(*ldapclient.ProviderData)
	require.True(t, ok, "DataSourceData is %T", resp.DataSourceData)
	assert.Same(t, providerData, resp.EphemeralResourceData)

	return providerData.Session.Config()
}

func TestConfigure_PerUserBind(t *testing.T) {
	_, resp := configureProvider(t, map[string]tftypes.Value{
		"host":           tftypes.NewValue(tftypes.String, "ldap.example.com"),
		"base_dn":        tftypes.NewValue(tftypes.String, "ou=People,dc=example,dc=com"),
		"account_filter": tftypes.NewValue(tftypes.String, "(&(objectClass=person)(uid=?))"),
		"start_tls":      tftypes.NewValue(tftypes.Bool, true),
		"timeout":        tftypes.NewValue(tftypes.Number, 5),
		"attributes": tftypes.NewValue(tftypes.List{ElementType: tftypes.String}, []tftypes.Value{
			tftypes.NewValue(tftypes.String, "cn"),
			tftypes.NewValue(tftypes.String, "mail"),
		}),
		"bind": bindValue(nil, ptr("uid=%s,ou=People,dc=example,dc=com"), nil),
	})

	cfg := sessionConfig(t, resp)
	assert.Equal(t, "ldap.example.com", cfg.Host)
	assert.Equal(t, 389, cfg.Port)
	assert.Equal(t, "ou=People,dc=example,dc=com", cfg.BaseDN)
	assert.Equal(t, "(&(objectClass=person)(uid=?))", cfg.Filter.Account)
	assert.True(t, cfg.StartTLS)
	assert.False(t, cfg.UseTLS)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"cn", "mail"}, cfg.Attributes)
	assert.Equal(t, ldapclient.BindConfig{
		DN:       "uid=%s,ou=People,dc=example,dc=com",
		Kerberos: ldapclient.KerberosConfig{ConfigFile: "/etc/krb5.conf"},
	}, cfg.Bind)
	assert.Equal(t, ldapclient.BindTypeLDAP, cfg.Type)
}

func TestConfigure_ServiceBindActiveDirectory(t *testing.T) {
	_, resp := configureProvider(t, map[string]tftypes.Value{
		"host":                  tftypes.NewValue(tftypes.String, "dc1.example.com"),
		"use_tls":               tftypes.NewValue(tftypes.Bool, true),
		"type":                  tftypes.NewValue(tftypes.String, "ActiveDirectory"),
		"account_filter":        tftypes.NewValue(tftypes.String, "(sAMAccountName=%s)"),
		"max_concurrent_logins": tftypes.NewValue(tftypes.Number, 3),
		"bind":                  bindValue(nil, ptr("cn=svc,dc=example,dc=com"), ptr("svc-secret")),
		"ldap_options": tftypes.NewValue(tftypes.Map{ElementType: tftypes.String}, map[string]tftypes.Value{
			"LDAP_OPT_NETWORK_TIMEOUT": tftypes.NewValue(tftypes.String, "5"),
		}),
	})

	cfg := sessionConfig(t, resp)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, 636, cfg.Port, "LDAPS defaults to port 636")
	assert.Equal(t, ldapclient.BindTypeActiveDirectory, cfg.Type)
	assert.Equal(t, "svc-secret", cfg.Bind.Password)
	assert.Equal(t, map[string]string{"LDAP_OPT_NETWORK_TIMEOUT": "5"}, cfg.Options)

	providerData := resp.DataSourceData.(*ldapclient.ProviderData)
	assert.Equal(t, int64(3), providerData.Limiter.Stats().Limit)
	assert.Equal(t, "ldaps://dc1.example.com:636", providerData.ServerURL())
}

func TestConfigure_EnvironmentFallback(t *testing.T) {
	t.Setenv("LDAPAUTH_HOST", "env.example.com")
	t.Setenv("LDAPAUTH_PORT", "1389")
	t.Setenv("LDAPAUTH_BIND_ANONYMOUS", "true")
	t.Setenv("LDAPAUTH_ATTRIBUTES", "cn, mail,,uid")
	t.Setenv("LDAPAUTH_SKIP_TLS_VERIFY", "true")

	_, resp := configureProvider(t, map[string]tftypes.Value{
		"port": tftypes.NewValue(tftypes.Number, 2389),
	})

	cfg := sessionConfig(t, resp)
	assert.Equal(t, "env.example.com", cfg.Host)
	assert.Equal(t, 2389, cfg.Port, "configuration wins over the environment")
	assert.True(t, cfg.Bind.Anonymous)
	assert.Equal(t, []string{"cn", "mail", "uid"}, cfg.Attributes)
	require.NotNil(t, cfg.TLSConfig)
	assert.True(t, cfg.TLSConfig.InsecureSkipVerify)
}

func TestConfigure_KerberosServiceBind(t *testing.T) {
	krb5Conf := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(krb5Conf, []byte("[libdefaults]\n default_realm = EXAMPLE.COM\n\n[realms]\n EXAMPLE.COM = {\n  kdc = kdc.example.com:88\n }\n"), 0o600))

	t.Setenv("LDAPAUTH_KERBEROS_SPN", "ldap/dc1.example.com")

	_, resp := configureProvider(t, map[string]tftypes.Value{
		"host":            tftypes.NewValue(tftypes.String, "ldap.example.com"),
		"type":            tftypes.NewValue(tftypes.String, "activedirectory"),
		"bind":            bindValue(nil, ptr("svc-ldap@EXAMPLE.COM"), ptr("svc-secret")),
		"kerberos_realm":  tftypes.NewValue(tftypes.String, "EXAMPLE.COM"),
		"kerberos_config": tftypes.NewValue(tftypes.String, krb5Conf),
	})

	cfg := sessionConfig(t, resp)
	assert.Equal(t, ldapclient.KerberosConfig{
		Realm:            "EXAMPLE.COM",
		ConfigFile:       krb5Conf,
		ServicePrincipal: "ldap/dc1.example.com",
	}, cfg.Bind.Kerberos)
	assert.Equal(t, "svc-ldap@EXAMPLE.COM", cfg.Bind.DN)
}

func TestConfigure_CACertFile(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte("-----BEGIN CERTIFICATE-----\n"), 0o600))

	_, resp := configureProvider(t, map[string]tftypes.Value{
		"host":             tftypes.NewValue(tftypes.String, "ldap.example.com"),
		"tls_ca_cert_file": tftypes.NewValue(tftypes.String, caFile),
	})

	cfg := sessionConfig(t, resp)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----\n", cfg.TLSCACert)
}

func TestConfigure_Errors(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]tftypes.Value
		wantPath path.Path
		summary  string
	}{
		{
			name: "unreadable CA file",
			values: map[string]tftypes.Value{
				"tls_ca_cert_file": tftypes.NewValue(tftypes.String, filepath.Join(t.TempDir(), "missing.pem")),
			},
			wantPath: path.Root("tls_ca_cert_file"),
			summary:  "Unable to Read CA Certificate File",
		},
		{
			name: "LDAPv2",
			values: map[string]tftypes.Value{
				"ldap_options": tftypes.NewValue(tftypes.Map{ElementType: tftypes.String}, map[string]tftypes.Value{
					"LDAP_OPT_PROTOCOL_VERSION": tftypes.NewValue(tftypes.String, "2"),
				}),
			},
			wantPath: path.Root("ldap_options"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "unknown option",
			values: map[string]tftypes.Value{
				"ldap_options": tftypes.NewValue(tftypes.Map{ElementType: tftypes.String}, map[string]tftypes.Value{
					"LDAP_OPT_X_SASL_MECH": tftypes.NewValue(tftypes.String, "GSSAPI"),
				}),
			},
			wantPath: path.Root("ldap_options"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "ldaps with StartTLS",
			values: map[string]tftypes.Value{
				"use_tls":   tftypes.NewValue(tftypes.Bool, true),
				"start_tls": tftypes.NewValue(tftypes.Bool, true),
			},
			wantPath: path.Root("start_tls"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "bind template with two placeholders",
			values: map[string]tftypes.Value{
				"bind": bindValue(nil, ptr("uid=%s,ou=?,dc=example,dc=com"), nil),
			},
			wantPath: path.Root("bind").AtName("dn"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "Kerberos without a password",
			values: map[string]tftypes.Value{
				"bind":           bindValue(nil, ptr("svc-ldap"), nil),
				"kerberos_realm": tftypes.NewValue(tftypes.String, "EXAMPLE.COM"),
			},
			wantPath: path.Root("kerberos_realm"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "missing krb5.conf",
			values: map[string]tftypes.Value{
				"bind":            bindValue(nil, ptr("svc-ldap"), ptr("svc-secret")),
				"kerberos_realm":  tftypes.NewValue(tftypes.String, "EXAMPLE.COM"),
				"kerberos_config": tftypes.NewValue(tftypes.String, filepath.Join(t.TempDir(), "missing.conf")),
			},
			wantPath: path.Root("kerberos_config"),
			summary:  "Unable to Create Directory Session",
		},
		{
			name: "too many concurrent logins",
			values: map[string]tftypes.Value{
				"max_concurrent_logins": tftypes.NewValue(tftypes.Number, ldapclient.MaxConcurrentLimit+1),
			},
			wantPath: path.Root("max_concurrent_logins"),
			summary:  "Unable to Create Login Limiter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := configureProvider(t, tt.values)

			require.True(t, resp.Diagnostics.HasError())
			assert.Nil(t, resp.DataSourceData)
			assert.Nil(t, resp.EphemeralResourceData)

			errs := resp.Diagnostics.Errors()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.summary, errs[0].Summary())

			withPath, ok := errs[0].(diag.DiagnosticWithPath)
			require.True(t, ok, "diagnostic should carry an attribute path")
			assert.True(t, withPath.Path().Equal(tt.wantPath), "path %s, want %s", withPath.Path(), tt.wantPath)
		})
	}
}

func TestConfigErrorPath(t *testing.T) {
	tests := map[string]string{
		"host":                   "host",
		"filter.account":         "account_filter",
		"bind.dn":                "bind.dn",
		"ldap_options.referrals": "ldap_options",
		"max_concurrent_logins":  "max_concurrent_logins",
		"tls_ca_cert":            "tls_ca_cert",
		"kerberos.realm":         "kerberos_realm",
		"kerberos.config_file":   "kerberos_config",
	}

	for field, want := range tests {
		got, ok := configErrorPath(field)
		require.True(t, ok, field)
		assert.Equal(t, want, got.String(), field)
	}

	_, ok := configErrorPath("config")
	assert.False(t, ok)
}
