package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &ServerDataSource{}
var _ datasource.DataSourceWithConfigure = &ServerDataSource{}

func NewServerDataSource() datasource.DataSource {
	return &ServerDataSource{}
}

// ServerDataSource defines the data source implementation.
type ServerDataSource struct {
	providerData *ldapclient.ProviderData
}

// ServerDataSourceModel describes the data source data model.
type ServerDataSourceModel struct {
	ID                    types.String `tfsdk:"id"`  // Set to url for state tracking
	URL                   types.String `tfsdk:"url"` // URL the provider dials
	Online                types.Bool   `tfsdk:"online"`
	VendorName            types.String `tfsdk:"vendor_name"`
	VendorVersion         types.String `tfsdk:"vendor_version"`
	SupportedLDAPVersions types.List   `tfsdk:"supported_ldap_versions"`
	NamingContexts        types.List   `tfsdk:"naming_contexts"`
}

func (d *ServerDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_server"
}

func (d *ServerDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the root DSE of the configured directory without binding. " +
			"Use it to check that the provider can reach the server before users log in.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Unique identifier for this data source (same as url).",
				Computed:            true,
			},
			"url": schema.StringAttribute{
				MarkdownDescription: "The `ldap://` or `ldaps://` URL the provider connects to.",
				Computed:            true,
			},
			"online": schema.BoolAttribute{
				MarkdownDescription: "Whether the root DSE could be read.",
				Computed:            true,
			},
			"vendor_name": schema.StringAttribute{
				MarkdownDescription: "The `vendorName` advertised by the server, if any.",
				Computed:            true,
			},
			"vendor_version": schema.StringAttribute{
				MarkdownDescription: "The `vendorVersion` advertised by the server, if any.",
				Computed:            true,
			},
			"supported_ldap_versions": schema.ListAttribute{
				MarkdownDescription: "The `supportedLDAPVersion` values advertised by the server.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"naming_contexts": schema.ListAttribute{
				MarkdownDescription: "The `namingContexts` advertised by the server. Example: `[\"dc=example,dc=com\"]`",
				ElementType:         types.StringType,
				Computed:            true,
			},
		},
	}
}

func (d *ServerDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	// Prevent panic if the provider has not been configured.
	if req.ProviderData == nil {
		return
	}

	providerData, ok := req.ProviderData.(*ldapclient.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Data Source Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	d.providerData = providerData
}

func (d *ServerDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data ServerDataSourceModel

	ctx = initializeLogging(ctx)

	// Set up entry/exit logging
	logCompletion := logSurface(ctx, "ldapauth_server.read")
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if d.providerData == nil {
		resp.Diagnostics.AddError(
			"Provider Not Configured",
			"The ldapauth provider has not been configured, so the directory cannot be read.",
		)
		return
	}

	// An unreachable server is reported as online = false rather than failing the plan.
	info, err := d.providerData.Ping(ctx)
	if err != nil {
		if info == nil {
			info = &ldapclient.ServerInfo{}
		}
		resp.Diagnostics.AddWarning(
			"Directory Server Unreachable",
			fmt.Sprintf("Could not read the root DSE of %s: %s", d.providerData.ServerURL(), err.Error()),
		)
	}

	resp.Diagnostics.Append(d.mapServerInfoToModel(ctx, info, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Read root DSE", map[string]any{
		"url":         data.URL.ValueString(),
		"vendor_name": info.VendorName,
		"online":      info.Online,
	})

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// mapServerInfoToModel copies a Ping result into the data source model.
func (d *ServerDataSource) mapServerInfoToModel(ctx context.Context, info *ldapclient.ServerInfo, data *ServerDataSourceModel) (diags diag.Diagnostics) {
	url := d.providerData.ServerURL()

	data.ID = types.StringValue(url)
	data.URL = types.StringValue(url)
	data.Online = types.BoolValue(info.Online)
	data.VendorName = stringOrNull(info.VendorName)
	data.VendorVersion = stringOrNull(info.VendorVersion)

	var d1, d2 diag.Diagnostics
	data.SupportedLDAPVersions, d1 = types.ListValueFrom(ctx, types.StringType, nonNil(info.SupportedLDAPVersion))
	data.NamingContexts, d2 = types.ListValueFrom(ctx, types.StringType, nonNil(info.NamingContexts))
	diags.Append(d1...)
	diags.Append(d2...)

	return diags
}

func stringOrNull(value string) types.String {
	if value == "" {
		return types.StringNull()
	}
	return types.StringValue(value)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
