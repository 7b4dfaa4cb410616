package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/mapvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/provider/validators"
)

const defaultMaxConcurrentLogins = 10

// Ensure LDAPAuthProvider satisfies various provider interfaces.
var _ provider.Provider = &LDAPAuthProvider{}
var _ provider.ProviderWithFunctions = &LDAPAuthProvider{}
var _ provider.ProviderWithEphemeralResources = &LDAPAuthProvider{}
var _ provider.ProviderWithConfigValidators = &LDAPAuthProvider{}

// LDAPAuthProvider defines the provider implementation.
type LDAPAuthProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string
}

// LDAPAuthProviderModel describes the provider data model.
type LDAPAuthProviderModel struct {
	// Connection settings
	Host    types.String `tfsdk:"host"`
	Port    types.Int64  `tfsdk:"port"`
	BaseDN  types.String `tfsdk:"base_dn"`
	Timeout types.Int64  `tfsdk:"timeout"`

	// Search settings
	AccountFilter types.String `tfsdk:"account_filter"`
	Attributes    types.List   `tfsdk:"attributes"`

	// Bind settings
	Type types.String       `tfsdk:"type"`
	Bind *LDAPAuthBindModel `tfsdk:"bind"`

	// Kerberos settings
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`

	// Protocol options
	LDAPOptions types.Map `tfsdk:"ldap_options"`

	// TLS settings
	UseTLS        types.Bool   `tfsdk:"use_tls"`
	StartTLS      types.Bool   `tfsdk:"start_tls"`
	SkipTLSVerify types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile types.String `tfsdk:"tls_ca_cert_file"`
	TLSCACert     types.String `tfsdk:"tls_ca_cert"`
	TLSServerName types.String `tfsdk:"tls_server_name"`

	MaxConcurrentLogins types.Int64 `tfsdk:"max_concurrent_logins"`
}

// LDAPAuthBindModel describes the bind block.
type LDAPAuthBindModel struct {
	Anonymous types.Bool   `tfsdk:"anonymous"`
	DN        types.String `tfsdk:"dn"`
	Password  types.String `tfsdk:"password"`
}

func (p *LDAPAuthProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "ldapauth"
	resp.Version = p.version
}

func (p *LDAPAuthProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The LDAP authentication provider verifies a username and password against an LDAP directory " +
			"or Active Directory and exposes the authenticated user's entry. " +
			"Every login opens its own connection, binds, searches for the account, verifies the password with a " +
			"bind as the account's DN and re-reads the entry with the user's own permissions.",
		Attributes: map[string]schema.Attribute{
			// Connection settings
			"host": schema.StringAttribute{
				MarkdownDescription: "Directory server host name or address. Defaults to `localhost`. " +
					"Can be set via the `LDAPAUTH_HOST` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"port": schema.Int64Attribute{
				MarkdownDescription: "Directory server port. Defaults to `389`. " +
					"Can be set via the `LDAPAUTH_PORT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
				},
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN under which accounts are searched (e.g., `ou=People,dc=example,dc=com`). " +
					"Can be set via the `LDAPAUTH_BASE_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"timeout": schema.Int64Attribute{
				MarkdownDescription: "Deadline in seconds for a whole login: connect, bind, search, verify and re-search. " +
					"Defaults to `30`. Can be set via the `LDAPAUTH_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// Search settings
			"account_filter": schema.StringAttribute{
				MarkdownDescription: "Account search filter. `?` or `%s` is replaced by the filter-escaped username. " +
					"Defaults to `(uid=?)`. Can be set via the `LDAPAUTH_ACCOUNT_FILTER` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidFilterTemplate(),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes to return for an authenticated entry. Defaults to all user attributes. " +
					"Can be set as a comma-separated list via the `LDAPAUTH_ATTRIBUTES` environment variable.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.UniqueValues(),
					listvalidator.ValueStringsAre(stringvalidator.LengthAtLeast(1)),
				},
			},

			// Bind settings
			"type": schema.StringAttribute{
				MarkdownDescription: "Bind strategy: `ldap` binds with DNs, `activedirectory` also accepts bind names " +
					"such as `EXAMPLE\\%s` or `%s@example.com`. Defaults to `ldap`. " +
					"Can be set via the `LDAPAUTH_TYPE` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf(append(ldapclient.BindTypes(), "active_directory", "ad")...),
				},
			},
			"bind": schema.SingleNestedAttribute{
				MarkdownDescription: "How the provider binds before searching for the account. " +
					"With only `dn` set, `dn` is a template and the user's own credentials are used. " +
					"With `password` set, the provider binds as a service account. " +
					"With `anonymous = true` and no password, the provider binds anonymously.",
				Optional: true,
				Attributes: map[string]schema.Attribute{
					"anonymous": schema.BoolAttribute{
						MarkdownDescription: "Allow an anonymous bind before searching. " +
							"Can be set via the `LDAPAUTH_BIND_ANONYMOUS` environment variable.",
						Optional: true,
					},
					"dn": schema.StringAttribute{
						MarkdownDescription: "Bind DN, or a template containing one `?` or `%s` placeholder for the DN-escaped username. " +
							"Can be set via the `LDAPAUTH_BIND_DN` environment variable.",
						Optional: true,
						Validators: []validator.String{
							validators.IsValidBindTemplate(),
						},
					},
					"password": schema.StringAttribute{
						MarkdownDescription: "Fixed bind password for a service account. " +
							"Can be set via the `LDAPAUTH_BIND_PASSWORD` environment variable.",
						Optional:  true,
						Sensitive: true,
					},
				},
			},

			// Kerberos settings
			"kerberos_realm": schema.StringAttribute{
				MarkdownDescription: "Kerberos realm. When set, binds made with `bind.password` use GSSAPI, and `bind.dn` " +
					"must be a principal such as `svc-ldap` or `svc-ldap@EXAMPLE.COM`. User passwords are still verified with a simple bind. " +
					"Can be set via the `LDAPAUTH_KERBEROS_REALM` environment variable.",
				Optional: true,
			},
			"kerberos_config": schema.StringAttribute{
				MarkdownDescription: "Path to the Kerberos configuration file. Defaults to `/etc/krb5.conf`. " +
					"Can be set via the `LDAPAUTH_KERBEROS_CONFIG` environment variable.",
				Optional: true,
			},
			"kerberos_spn": schema.StringAttribute{
				MarkdownDescription: "Service principal of the directory. Defaults to `ldap/<host>`. " +
					"Can be set via the `LDAPAUTH_KERBEROS_SPN` environment variable.",
				Optional: true,
			},

			// Protocol options
			"ldap_options": schema.MapAttribute{
				MarkdownDescription: "Protocol options keyed by name, with or without the `LDAP_OPT_` prefix. Supported: `" +
					strings.Join(ldapclient.SupportedOptions(), "`, `") + "`.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.Map{
					mapvalidator.KeysAre(stringvalidator.LengthAtLeast(1)),
				},
			},

			// TLS settings
			"use_tls": schema.BoolAttribute{
				MarkdownDescription: "Connect with LDAPS. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_USE_TLS` environment variable.",
				Optional: true,
			},
			"start_tls": schema.BoolAttribute{
				MarkdownDescription: "Upgrade a plain connection with StartTLS before binding. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_START_TLS` environment variable.",
				Optional: true,
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip TLS certificate verification. Not recommended for production. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"tls_ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to custom CA certificate file for TLS verification. " +
					"Can be set via the `LDAPAUTH_TLS_CA_CERT_FILE` environment variable.",
				Optional: true,
			},
			"tls_ca_cert": schema.StringAttribute{
				MarkdownDescription: "Custom CA certificate content for TLS verification. " +
					"Can be set via the `LDAPAUTH_TLS_CA_CERT` environment variable.",
				Optional:  true,
				Sensitive: true,
			},
			"tls_server_name": schema.StringAttribute{
				MarkdownDescription: "Server name to verify the certificate against. Defaults to `host`. " +
					"Can be set via the `LDAPAUTH_TLS_SERVER_NAME` environment variable.",
				Optional: true,
			},

			"max_concurrent_logins": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of logins in flight at once. Defaults to `10`. " +
					"Can be set via the `LDAPAUTH_MAX_CONCURRENT_LOGINS` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, ldapclient.MaxConcurrentLimit),
				},
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LDAPAuthProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		// LDAPS and StartTLS are mutually exclusive
		providervalidator.Conflicting(
			path.MatchRoot("use_tls"),
			path.MatchRoot("start_tls"),
		),
		// TLS cert file and cert content are mutually exclusive
		providervalidator.Conflicting(
			path.MatchRoot("tls_ca_cert_file"),
			path.MatchRoot("tls_ca_cert"),
		),
	}
}

func (p *LDAPAuthProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LDAPAuthProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring LDAP authentication provider", map[string]any{
		"version": p.version,
	})

	config := p.buildDirectoryConfig(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	start := time.Now()
	session, err := ldapclient.NewSession(config)
	if err != nil {
		tflog.Error(ctx, "Failed to create directory session", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		addConfigError(&resp.Diagnostics, err, "Unable to Create Directory Session",
			"The provider configuration is invalid.\n\n")
		return
	}

	maxConcurrent := p.getInt64Value(data.MaxConcurrentLogins, "LDAPAUTH_MAX_CONCURRENT_LOGINS", defaultMaxConcurrentLogins)
	providerData, err := ldapclient.NewProviderData(session, int(maxConcurrent))
	if err != nil {
		addConfigError(&resp.Diagnostics, err, "Unable to Create Login Limiter",
			"The provider could not bound concurrent logins.\n\n")
		return
	}

	tflog.Info(ctx, "LDAP authentication provider configured successfully", map[string]any{
		"server_url":            providerData.ServerURL(),
		"bind_type":             string(config.Type),
		"max_concurrent_logins": maxConcurrent,
		"duration_ms":           time.Since(start).Milliseconds(),
	})

	// Make provider data available to data sources and ephemeral resources
	resp.DataSourceData = providerData
	resp.EphemeralResourceData = providerData
}

// configureLogging sets up logging configuration based on environment variables.
func (p *LDAPAuthProvider) configureLogging(ctx context.Context) context.Context {
	ctx = initializeLogging(ctx)

	// Add persistent fields for all logs
	ctx = tflog.SetField(ctx, "provider", "ldapauth")
	ctx = tflog.SetField(ctx, "provider_version", p.version)

	tflog.Debug(ctx, "LDAP authentication provider logging configured")

	return ctx
}

// buildDirectoryConfig constructs the session configuration from provider config and environment variables.
func (p *LDAPAuthProvider) buildDirectoryConfig(ctx context.Context, data *LDAPAuthProviderModel, diags *diag.Diagnostics) *ldapclient.DirectoryConfig {
	config := ldapclient.DefaultConfig()

	// Connection settings
	if host := p.getStringValue(data.Host, "LDAPAUTH_HOST"); host != "" {
		config.Host = host
	}

	if port := p.getInt64Value(data.Port, "LDAPAUTH_PORT", 0); port > 0 {
		config.Port = int(port)
	} else if p.getBoolValue(data.UseTLS, "LDAPAUTH_USE_TLS", false) {
		config.Port = 636
	}

	config.BaseDN = p.getStringValue(data.BaseDN, "LDAPAUTH_BASE_DN")

	if timeout := p.getInt64Value(data.Timeout, "LDAPAUTH_TIMEOUT", 0); timeout > 0 {
		config.Timeout = time.Duration(timeout) * time.Second
	}

	// Search settings
	if filter := p.getStringValue(data.AccountFilter, "LDAPAUTH_ACCOUNT_FILTER"); filter != "" {
		config.Filter.Account = filter
	}

	config.Attributes = p.getStringListValue(ctx, data.Attributes, "LDAPAUTH_ATTRIBUTES", diags)

	// Bind settings
	if bindType := p.getStringValue(data.Type, "LDAPAUTH_TYPE"); bindType != "" {
		config.Type = ldapclient.BindType(bindType)
	}

	bind := data.Bind
	if bind == nil {
		bind = &LDAPAuthBindModel{
			Anonymous: types.BoolNull(),
			DN:        types.StringNull(),
			Password:  types.StringNull(),
		}
	}
	config.Bind = ldapclient.BindConfig{
		Anonymous: p.getBoolValue(bind.Anonymous, "LDAPAUTH_BIND_ANONYMOUS", false),
		DN:        p.getStringValue(bind.DN, "LDAPAUTH_BIND_DN"),
		Password:  p.getStringValue(bind.Password, "LDAPAUTH_BIND_PASSWORD"),
		Kerberos: ldapclient.KerberosConfig{
			Realm:            p.getStringValue(data.KerberosRealm, "LDAPAUTH_KERBEROS_REALM"),
			ConfigFile:       p.getStringValue(data.KerberosConfig, "LDAPAUTH_KERBEROS_CONFIG"),
			ServicePrincipal: p.getStringValue(data.KerberosSPN, "LDAPAUTH_KERBEROS_SPN"),
		},
	}

	// Protocol options
	if !data.LDAPOptions.IsNull() && !data.LDAPOptions.IsUnknown() {
		options := make(map[string]string)
		diags.Append(data.LDAPOptions.ElementsAs(ctx, &options, false)...)
		config.Options = options
	}

	// TLS settings
	config.UseTLS = p.getBoolValue(data.UseTLS, "LDAPAUTH_USE_TLS", false)
	config.StartTLS = p.getBoolValue(data.StartTLS, "LDAPAUTH_START_TLS", false)
	config.ServerName = p.getStringValue(data.TLSServerName, "LDAPAUTH_TLS_SERVER_NAME")

	if p.getBoolValue(data.SkipTLSVerify, "LDAPAUTH_SKIP_TLS_VERIFY", false) {
		config.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // explicitly requested by configuration
		}
	}

	config.TLSCACert = p.getStringValue(data.TLSCACert, "LDAPAUTH_TLS_CA_CERT")
	if caFile := p.getStringValue(data.TLSCACertFile, "LDAPAUTH_TLS_CA_CERT_FILE"); caFile != "" {
		content, err := os.ReadFile(caFile)
		if err != nil {
			diags.AddAttributeError(
				path.Root("tls_ca_cert_file"),
				"Unable to Read CA Certificate File",
				"The provider could not read the CA certificate file.\n\n"+
					"File Error: "+err.Error(),
			)
			return config
		}
		config.TLSCACert = string(content)
	}

	return config
}

// addConfigError reports err against the provider attribute it names when it
// is a configuration error, and as a general error otherwise.
func addConfigError(diags *diag.Diagnostics, err error, summary, detail string) {
	var configErr *ldapclient.ConfigError
	if errors.As(err, &configErr) {
		if attrPath, ok := configErrorPath(configErr.Field); ok {
			diags.AddAttributeError(attrPath, summary, detail+"Configuration Error: "+err.Error())
			return
		}
	}
	diags.AddError(summary, detail+"Configuration Error: "+err.Error())
}

// configErrorPath maps a DirectoryConfig field name onto the provider schema.
func configErrorPath(field string) (path.Path, bool) {
	if strings.HasPrefix(field, "ldap_options.") {
		return path.Root("ldap_options"), true
	}

	switch field {
	case "host", "port", "timeout", "base_dn", "type", "start_tls", "tls_ca_cert", "ldap_options", "max_concurrent_logins":
		return path.Root(field), true
	case "filter.account":
		return path.Root("account_filter"), true
	case "bind.dn":
		return path.Root("bind").AtName("dn"), true
	case "kerberos.realm":
		return path.Root("kerberos_realm"), true
	case "kerberos.config_file":
		return path.Root("kerberos_config"), true
	default:
		return path.Empty(), false
	}
}

// Helper functions for configuration value resolution

func (p *LDAPAuthProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *LDAPAuthProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPAuthProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPAuthProvider) getStringListValue(ctx context.Context, configValue types.List, envVar string, diags *diag.Diagnostics) []string {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		var values []string
		diags.Append(configValue.ElementsAs(ctx, &values, false)...)
		return values
	}

	var values []string
	for value := range strings.SplitSeq(os.Getenv(envVar), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func (p *LDAPAuthProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{}
}

func (p *LDAPAuthProvider) EphemeralResources(ctx context.Context) []func() ephemeral.EphemeralResource {
	return []func() ephemeral.EphemeralResource{
		NewLoginEphemeralResource,
	}
}

func (p *LDAPAuthProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewServerDataSource,
	}
}

func (p *LDAPAuthProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewEscapeFilterFunction,
		NewEscapeDNFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LDAPAuthProvider{
			version: version,
		}
	}
}
