package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ProviderData wraps the session and its concurrency limiter for use by
// Terraform data sources and ephemeral resources.
type ProviderData struct {
	Session *Session              // Directory session built from provider configuration
	Limiter *LimitedAuthenticator // Bounds concurrent logins against Session
}

// NewProviderData creates a new provider data wrapper admitting at most
// maxConcurrent logins at once.
func NewProviderData(session *Session, maxConcurrent int) (*ProviderData, error) {
	if session == nil {
		return nil, fmt.Errorf("session is not initialized")
	}

	limiter, err := NewLimitedAuthenticator(session, maxConcurrent)
	if err != nil {
		return nil, err
	}

	return &ProviderData{
		Session: session,
		Limiter: limiter,
	}, nil
}

// Authenticate runs one limited authentication attempt.
func (pd *ProviderData) Authenticate(ctx context.Context, username, password string) (*Entry, error) {
	if pd.Limiter == nil {
		return nil, newAuthError(KindConfiguration, StateUnconnected, fmt.Errorf("provider data is not initialized"))
	}

	start := time.Now()
	entry, err := pd.Limiter.Authenticate(ctx, username, password)

	tflog.Trace(ctx, "Limited authentication attempt completed", map[string]any{
		"succeeded":   err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return entry, err
}

// Ping reads the root DSE of the configured directory.
func (pd *ProviderData) Ping(ctx context.Context) (*ServerInfo, error) {
	if pd.Session == nil {
		return nil, fmt.Errorf("session is not initialized")
	}

	return pd.Session.Ping(ctx)
}

// ServerURL returns the URL the session dials.
func (pd *ProviderData) ServerURL() string {
	if pd.Session == nil {
		return ""
	}

	cfg := pd.Session.Config()
	return ServerURL(&cfg)
}

// GetCombinedStats returns limiter statistics keyed for structured logging.
func (pd *ProviderData) GetCombinedStats() map[string]any {
	stats := make(map[string]any)

	if pd.Limiter != nil {
		s := pd.Limiter.Stats()
		stats["logins"] = map[string]any{
			"limit":          s.Limit,
			"active":         s.Active,
			"total":          s.Total,
			"succeeded":      s.Succeeded,
			"failed":         s.Failed,
			"rejected":       s.Rejected,
			"uptime_seconds": s.Uptime.Seconds(),
		}
	}

	return stats
}
