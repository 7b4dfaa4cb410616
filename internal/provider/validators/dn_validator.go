package validators

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Ensure the implementation satisfies the expected interface.
var _ validator.String = syntaxValidator{}

// syntaxValidator validates a string against one piece of LDAP syntax.
type syntaxValidator struct {
	description string
	summary     string
	allowEmpty  bool
	check       func(string) error
}

// Description describes the validation in plain text.
func (v syntaxValidator) Description(_ context.Context) string {
	return v.description
}

// MarkdownDescription describes the validation in Markdown.
func (v syntaxValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

// ValidateString performs the validation.
func (v syntaxValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	// Skip validation for unknown or null values
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()

	err := v.check(value)
	if value == "" && !v.allowEmpty {
		err = errors.New("value cannot be empty")
	}
	if err == nil {
		return
	}

	response.Diagnostics.AddAttributeError(
		request.Path,
		v.summary,
		fmt.Sprintf("The value %q is not valid: %s", value, err.Error()),
	)
}

// IsValidDN returns a validator which ensures that any configured
// attribute value is a valid Distinguished Name (DN).
//
// Unknown values and null values are skipped from validation.
func IsValidDN() validator.String {
	return syntaxValidator{
		description: "value must be a valid Distinguished Name (DN)",
		summary:     "Invalid Distinguished Name",
		check: func(value string) error {
			_, err := ldap.ParseDN(value)
			return err
		},
	}
}

// IsValidBindTemplate returns a validator for bind DN templates. A template
// holds at most one "?" or "%s" username placeholder; templates containing
// "=" must be valid DNs once the placeholder is substituted, anything else
// is taken as a bind name such as DOMAIN\%s.
func IsValidBindTemplate() validator.String {
	return syntaxValidator{
		description: "value must be a bind DN or bind name with at most one ? or %s username placeholder",
		summary:     "Invalid Bind DN Template",
		check:       ldapclient.ValidateBindTemplate,
	}
}

// IsValidFilterTemplate returns a validator for account search filter
// templates, which must hold exactly one "?" or "%s" username placeholder.
func IsValidFilterTemplate() validator.String {
	return syntaxValidator{
		description: "value must be an LDAP search filter with exactly one ? or %s username placeholder",
		summary:     "Invalid Account Filter",
		check:       ldapclient.ValidateFilterTemplate,
	}
}
