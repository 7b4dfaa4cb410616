package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// initializeLogging initializes the provider and ldap subsystems for consistent
// logging. This should be called at the beginning of Configure, data source
// Read and ephemeral resource Open methods.
func initializeLogging(ctx context.Context) context.Context {
	// Pattern: TF_LOG_PROVIDER_LDAPAUTH_<SUBSYSTEM>
	ctx = tflog.NewSubsystem(ctx, "provider",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAPAUTH_PROVIDER"))

	ctx = tflog.NewSubsystem(ctx, "ldap",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAPAUTH_LDAP"))

	// Passwords never reach log output, even when an operation adds them.
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "ldap", "password", "bind_password")

	return ctx
}

// logSurface logs entry to a provider surface such as "ldapauth_login.open"
// and returns a func that logs its completion.
func logSurface(ctx context.Context, surface string) func(error) {
	start := time.Now()
	ctx = tflog.SetField(ctx, "surface", surface)

	tflog.SubsystemDebug(ctx, "provider", "Starting "+surface)

	return func(err error) {
		fields := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			fields["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", surface+" failed", fields)
			return
		}
		tflog.SubsystemDebug(ctx, "provider", surface+" completed", fields)
	}
}

// firstError flattens the first error diagnostic for completion logging.
func firstError(diags diag.Diagnostics) error {
	for _, d := range diags.Errors() {
		return fmt.Errorf("%s: %s", d.Summary(), d.Detail())
	}
	return nil
}
