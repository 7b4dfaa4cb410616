package ldap

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const subsystem = "ldap"

// timed runs a directory request and logs its duration and outcome.
func timed(ctx context.Context, request string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["request"] = request

	tflog.SubsystemTrace(ctx, subsystem, "Sending directory request", fields)

	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		logDirectoryError(ctx, request, err, fields)
		return err
	}

	tflog.SubsystemDebug(ctx, subsystem, "Directory request completed", fields)
	return nil
}

// logDirectoryError logs a failed request with the server's result code and
// diagnostic message when it returned one.
func logDirectoryError(ctx context.Context, request string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["request"] = request
	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if name, ok := ldap.LDAPResultCodeMap[resultErr.ResultCode]; ok {
			fields["ldap_result"] = name
		}
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, subsystem, "Directory request failed", fields)
}

// logConnection logs a dial, TLS or close event for serverURL.
func logConnection(ctx context.Context, event, serverURL string, err error) {
	fields := map[string]any{
		"event": event,
		"url":   serverURL,
	}
	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Directory connection failed", fields)
		return
	}
	tflog.SubsystemDebug(ctx, subsystem, "Directory connection", fields)
}

// logAttempt logs a step of Authenticate. Callers never pass the password;
// Authenticate also masks any "password" field on its context.
func logAttempt(ctx context.Context, outcome string, fields map[string]any) {
	fields["outcome"] = outcome

	switch outcome {
	case "success":
		tflog.SubsystemInfo(ctx, subsystem, "Login succeeded", fields)
	case "failure":
		tflog.SubsystemWarn(ctx, subsystem, "Login failed", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Login started", fields)
	}
}
