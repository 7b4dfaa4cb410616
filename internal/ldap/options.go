package ldap

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ProtocolSettings is the resolved form of DirectoryConfig.Options.
type ProtocolSettings struct {
	NetworkTimeout time.Duration // Dial timeout
	OpTimeout      time.Duration // Per-request timeout on the connection
	TimeLimit      time.Duration // Server-side search time limit
	SizeLimit      int           // Server-side search size limit
	Deref          DerefAliases
	SkipTLSVerify  bool
}

// optionSetter applies one named option to the resolved settings.
type optionSetter func(value string, s *ProtocolSettings) error

// protocolOptions maps the supported option names onto transport settings.
// Names follow the familiar LDAP_OPT_* spelling without the prefix.
var protocolOptions = map[string]optionSetter{
	"protocol_version": func(value string, _ *ProtocolSettings) error {
		if value != "3" {
			return fmt.Errorf("only LDAPv3 is supported, got %q", value)
		}
		return nil
	},
	"referrals": func(value string, _ *ProtocolSettings) error {
		enabled, err := parseOptionBool(value)
		if err != nil {
			return err
		}
		if enabled {
			return fmt.Errorf("referral chasing is not supported")
		}
		return nil
	},
	"network_timeout": func(value string, s *ProtocolSettings) error {
		d, err := parseOptionSeconds(value)
		if err != nil {
			return err
		}
		s.NetworkTimeout = d
		return nil
	},
	"timeout": func(value string, s *ProtocolSettings) error {
		d, err := parseOptionSeconds(value)
		if err != nil {
			return err
		}
		s.OpTimeout = d
		return nil
	},
	"timelimit": func(value string, s *ProtocolSettings) error {
		d, err := parseOptionSeconds(value)
		if err != nil {
			return err
		}
		s.TimeLimit = d
		return nil
	},
	"sizelimit": func(value string, s *ProtocolSettings) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("sizelimit must be a non-negative integer, got %q", value)
		}
		// A limit of one would hide ambiguous account matches.
		if n == 1 {
			return fmt.Errorf("sizelimit must be 0 or at least 2, got %q", value)
		}
		s.SizeLimit = n
		return nil
	},
	"deref": func(value string, s *ProtocolSettings) error {
		switch strings.ToLower(value) {
		case "never", "0":
			s.Deref = NeverDerefAliases
		case "searching", "1":
			s.Deref = DerefInSearching
		case "finding", "2":
			s.Deref = DerefFindingBaseObj
		case "always", "3":
			s.Deref = DerefAlways
		default:
			return fmt.Errorf("deref must be one of never, searching, finding, always, got %q", value)
		}
		return nil
	},
	"x_tls_require_cert": func(value string, s *ProtocolSettings) error {
		switch strings.ToLower(value) {
		case "never", "allow":
			s.SkipTLSVerify = true
		case "try", "demand", "hard":
			s.SkipTLSVerify = false
		default:
			return fmt.Errorf("x_tls_require_cert must be one of never, allow, try, demand, hard, got %q", value)
		}
		return nil
	},
}

// SupportedOptions returns the sorted names of supported protocol options.
func SupportedOptions() []string {
	return slices.Sorted(maps.Keys(protocolOptions))
}

// resolveProtocolOptions validates options and resolves them into settings.
// An unknown option name is a configuration error.
func resolveProtocolOptions(options map[string]string) (*ProtocolSettings, error) {
	settings := &ProtocolSettings{}

	// Apply in a stable order so error reporting is deterministic.
	for _, name := range slices.Sorted(maps.Keys(options)) {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.TrimPrefix(key, "ldap_opt_")

		setter, ok := protocolOptions[key]
		if !ok {
			return nil, NewConfigError("ldap_options", fmt.Sprintf("unsupported option %q (supported: %s)", name, strings.Join(SupportedOptions(), ", ")))
		}

		if err := setter(strings.TrimSpace(options[name]), settings); err != nil {
			return nil, NewConfigError("ldap_options."+key, err.Error())
		}
	}

	return settings, nil
}

func parseOptionBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %q", value)
	}
}

// parseOptionSeconds accepts plain seconds ("10") or a Go duration ("10s").
func parseOptionSeconds(value string) (time.Duration, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration cannot be negative, got %q", value)
		}
		return time.Duration(n) * time.Second, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("expected seconds or a duration, got %q", value)
	}
	return d, nil
}
