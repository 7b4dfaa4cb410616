package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ function.Function = &EscapeFilterFunction{}
var _ function.Function = &EscapeDNFunction{}

func NewEscapeFilterFunction() function.Function {
	return &EscapeFilterFunction{}
}

func NewEscapeDNFunction() function.Function {
	return &EscapeDNFunction{}
}

// EscapeFilterFunction implements the escape_filter function.
type EscapeFilterFunction struct{}

// Metadata returns the function name and signature.
func (f EscapeFilterFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "escape_filter"
}

// Definition returns the function schema including parameters and return types.
func (f EscapeFilterFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for an LDAP search filter",
		Description: "Escapes a value for safe use inside an LDAP search filter (RFC 4515). The characters * ( ) \\ and NUL, and any byte outside 7-bit ASCII, are written as \\XX hex escapes.",
		MarkdownDescription: "Escapes a value for safe use inside an LDAP search filter ([RFC 4515](https://www.rfc-editor.org/rfc/rfc4515)).\n\n" +
			"The characters `*`, `(`, `)`, `\\` and NUL, and any byte outside 7-bit ASCII, are written as `\\XX` hex escapes, " +
			"so `*)(uid=*` becomes `\\2a\\29\\28uid=\\2a`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f EscapeFilterFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.EscapeFilterValue(value)))
}

// EscapeDNFunction implements the escape_dn function.
type EscapeDNFunction struct{}

// Metadata returns the function name and signature.
func (f EscapeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "escape_dn"
}

// Definition returns the function schema including parameters and return types.
func (f EscapeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for a Distinguished Name",
		Description: "Escapes an attribute value for safe use inside a Distinguished Name (RFC 4514). The characters , + \" \\ < > ; are escaped, as are a leading # and leading or trailing spaces.",
		MarkdownDescription: "Escapes an attribute value for safe use inside a Distinguished Name ([RFC 4514](https://www.rfc-editor.org/rfc/rfc4514)).\n\n" +
			"The characters `,` `+` `\"` `\\` `<` `>` `;` are escaped, as are a leading `#` and leading or trailing spaces, " +
			"so `Doe, John` becomes `Doe\\, John`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The attribute value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f EscapeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.EscapeDNValue(value)))
}
