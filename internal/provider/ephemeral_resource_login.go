package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ ephemeral.EphemeralResource = &LoginEphemeralResource{}
var _ ephemeral.EphemeralResourceWithConfigure = &LoginEphemeralResource{}

func NewLoginEphemeralResource() ephemeral.EphemeralResource {
	return &LoginEphemeralResource{}
}

// LoginEphemeralResource authenticates a username and password against the
// configured directory.
type LoginEphemeralResource struct {
	authenticator ldapclient.Authenticator
}

// LoginEphemeralResourceModel describes the ephemeral resource data model.
type LoginEphemeralResourceModel struct {
	Username       types.String `tfsdk:"username"`
	Password       types.String `tfsdk:"password"`
	ErrorOnFailure types.Bool   `tfsdk:"error_on_failure"`

	Authenticated types.Bool   `tfsdk:"authenticated"`
	DN            types.String `tfsdk:"dn"`
	Attributes    types.Map    `tfsdk:"attributes"`
}

func (r *LoginEphemeralResource) Metadata(ctx context.Context, req ephemeral.MetadataRequest, resp *ephemeral.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_login"
}

func (r *LoginEphemeralResource) Schema(ctx context.Context, req ephemeral.SchemaRequest, resp *ephemeral.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Authenticates a user against the directory and returns the user's entry. " +
			"The password is verified by binding as the entry found for `username`, and the returned attributes are " +
			"read with the user's own permissions. Nothing is stored in state.",

		Attributes: map[string]schema.Attribute{
			"username": schema.StringAttribute{
				MarkdownDescription: "Username to authenticate. It is escaped before it is placed in the account filter or a bind DN.",
				Required:            true,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Password to verify. An empty password always fails without contacting the directory.",
				Required:            true,
				Sensitive:           true,
			},
			"error_on_failure": schema.BoolAttribute{
				MarkdownDescription: "Raise an error when the credentials are rejected. When `false`, rejected credentials set " +
					"`authenticated` to `false` instead. Configuration and connection problems are always errors. Defaults to `true`.",
				Optional: true,
			},
			"authenticated": schema.BoolAttribute{
				MarkdownDescription: "Whether the credentials were accepted.",
				Computed:            true,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the authenticated entry. Example: `uid=jdoe,ou=People,dc=example,dc=com`",
				Computed:            true,
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "Attributes of the authenticated entry, keyed by attribute name. " +
					"`objectSid` and `objectGUID` are rendered in their string forms.",
				ElementType: types.ListType{ElemType: types.StringType},
				Computed:    true,
			},
		},
	}
}

func (r *LoginEphemeralResource) Configure(ctx context.Context, req ephemeral.ConfigureRequest, resp *ephemeral.ConfigureResponse) {
	// Prevent panic if the provider has not been configured.
	if req.ProviderData == nil {
		return
	}

	providerData, ok := req.ProviderData.(*ldapclient.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Ephemeral Resource Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	r.authenticator = providerData
}

func (r *LoginEphemeralResource) Open(ctx context.Context, req ephemeral.OpenRequest, resp *ephemeral.OpenResponse) {
	var data LoginEphemeralResourceModel

	ctx = initializeLogging(ctx)

	logCompletion := logSurface(ctx, "ldapauth_login.open")
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if r.authenticator == nil {
		resp.Diagnostics.AddError(
			"Provider Not Configured",
			"The ldapauth provider has not been configured, so logins cannot be checked.",
		)
		return
	}

	entry, err := r.authenticator.Authenticate(ctx, data.Username.ValueString(), data.Password.ValueString())
	if err != nil {
		if ldapclient.IsAuthenticationFailure(err) && !data.ErrorOnFailure.IsNull() && !data.ErrorOnFailure.ValueBool() {
			tflog.Debug(ctx, "Login rejected, reporting unauthenticated result")

			data.Authenticated = types.BoolValue(false)
			data.DN = types.StringNull()
			data.Attributes = types.MapNull(types.ListType{ElemType: types.StringType})
			resp.Diagnostics.Append(resp.Result.Set(ctx, &data)...)
			return
		}

		addAuthError(ctx, resp, err)
		return
	}

	data.Authenticated = types.BoolValue(true)
	data.DN = types.StringValue(entry.DN)

	attributes, diags := types.MapValueFrom(ctx, types.ListType{ElemType: types.StringType}, entry.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}
	data.Attributes = attributes

	tflog.Debug(ctx, "Login succeeded", map[string]any{
		"dn":              entry.DN,
		"attribute_count": len(entry.Attributes),
	})

	resp.Diagnostics.Append(resp.Result.Set(ctx, &data)...)
}

// addAuthError turns an authentication error into diagnostics. Credential
// failures keep the generic message so that unknown users and wrong
// passwords are reported identically.
func addAuthError(ctx context.Context, resp *ephemeral.OpenResponse, err error) {
	var authErr *ldapclient.AuthError
	if errors.As(err, &authErr) {
		tflog.Debug(ctx, "Login failed", map[string]any{
			"diagnostic": authErr.Diagnostic(),
		})
	}

	switch {
	case ldapclient.IsAuthenticationFailure(err):
		resp.Diagnostics.AddError(
			"Authentication Failed",
			"The directory rejected the supplied credentials: "+ldapclient.ErrAuthenticationFailed.Error(),
		)
	case ldapclient.IsConfigError(err):
		resp.Diagnostics.AddError(
			"Invalid Directory Configuration",
			"The provider configuration cannot be used to authenticate users. "+
				"Please verify the bind and search settings.\n\n"+
				"Configuration Error: "+err.Error(),
		)
	case ldapclient.IsTransportError(err):
		resp.Diagnostics.AddError(
			"Unable to Contact Directory",
			"The provider could not complete the login against the directory. "+
				"Please verify the connection settings.\n\n"+
				"Directory Error: "+err.Error(),
		)
	default:
		resp.Diagnostics.AddError(
			"Unexpected Login Error",
			"The login failed with an error the provider does not recognize. "+
				"Please report this issue to the provider developers.\n\n"+
				"Error: "+err.Error(),
		)
	}
}
