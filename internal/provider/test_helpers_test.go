package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-go/tftypes"

	ldapclient "github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Test environment configuration constants.
const (
	// Environment variables for test configuration.
	EnvTestHost          = "LDAPAUTH_TEST_HOST"
	EnvTestPort          = "LDAPAUTH_TEST_PORT"
	EnvTestBaseDN        = "LDAPAUTH_TEST_BASE_DN"
	EnvTestAccountFilter = "LDAPAUTH_TEST_ACCOUNT_FILTER"
	EnvTestBindDN        = "LDAPAUTH_TEST_BIND_DN"
	EnvTestUsername      = "LDAPAUTH_TEST_USERNAME"
	EnvTestPassword      = "LDAPAUTH_TEST_PASSWORD"

	// Default values for testing.
	DefaultTestPort          = "389"
	DefaultTestBaseDN        = "ou=People,dc=example,dc=com"
	DefaultTestAccountFilter = "(uid=?)"
	DefaultTestBindDN        = "uid=%s,ou=People,dc=example,dc=com"
)

// TestConfig holds common test configuration.
type TestConfig struct {
	Host          string
	Port          string
	BaseDN        string
	AccountFilter string
	BindDN        string
	Username      string
	Password      string
}

// GetTestConfig returns the test configuration from environment variables.
func GetTestConfig() *TestConfig {
	return &TestConfig{
		Host:          os.Getenv(EnvTestHost),
		Port:          getEnvWithDefault(EnvTestPort, DefaultTestPort),
		BaseDN:        getEnvWithDefault(EnvTestBaseDN, DefaultTestBaseDN),
		AccountFilter: getEnvWithDefault(EnvTestAccountFilter, DefaultTestAccountFilter),
		BindDN:        getEnvWithDefault(EnvTestBindDN, DefaultTestBindDN),
		Username:      os.Getenv(EnvTestUsername),
		Password:      os.Getenv(EnvTestPassword),
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

// testAccPreCheckWithConfig validates the acceptance test environment.
func testAccPreCheckWithConfig(t *testing.T) *TestConfig {
	SkipIfNotAccTest(t)

	config := GetTestConfig()

	if config.Host == "" {
		t.Skipf("Skipping test: %s must be set to a real directory server", EnvTestHost)
	}

	if config.Username == "" || config.Password == "" {
		t.Skipf("Skipping test: %s and %s must be set", EnvTestUsername, EnvTestPassword)
	}

	return config
}

// testAccProviderConfig generates provider configuration for tests.
func testAccProviderConfig() string {
	config := GetTestConfig()

	var providerConfig strings.Builder
	providerConfig.WriteString("provider \"ldapauth\" {\n")
	providerConfig.WriteString(fmt.Sprintf("  host           = %q\n", config.Host))
	providerConfig.WriteString(fmt.Sprintf("  port           = %s\n", config.Port))
	providerConfig.WriteString(fmt.Sprintf("  base_dn        = %q\n", config.BaseDN))
	providerConfig.WriteString(fmt.Sprintf("  account_filter = %q\n", config.AccountFilter))
	providerConfig.WriteString("  bind = {\n")
	providerConfig.WriteString(fmt.Sprintf("    dn = %q\n", config.BindDN))
	providerConfig.WriteString("  }\n")
	providerConfig.WriteString("}\n")
	return providerConfig.String()
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// objectValue builds an object of objType, leaving every attribute not in
// values null.
func objectValue(objType tftypes.Object, values map[string]tftypes.Value) tftypes.Value {
	attrs := make(map[string]tftypes.Value, len(objType.AttributeTypes))
	for name, typ := range objType.AttributeTypes {
		if value, ok := values[name]; ok {
			attrs[name] = value
			continue
		}
		attrs[name] = tftypes.NewValue(typ, nil)
	}
	return tftypes.NewValue(objType, attrs)
}

// MockAuthenticator returns canned results from Authenticate.
type MockAuthenticator struct {
	Entry *ldapclient.Entry
	Err   error

	Calls []string
}

var _ ldapclient.Authenticator = (*MockAuthenticator)(nil)

// NewMockAuthenticator creates an authenticator accepting any credentials for entry.
func NewMockAuthenticator(entry *ldapclient.Entry) *MockAuthenticator {
	return &MockAuthenticator{Entry: entry}
}

// SetError makes every later call fail with err.
func (m *MockAuthenticator) SetError(err error) {
	m.Err = err
}

func (m *MockAuthenticator) Authenticate(_ context.Context, username, _ string) (*ldapclient.Entry, error) {
	m.Calls = append(m.Calls, username)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Entry, nil
}

// mockDirectory serves a fixed root DSE to every connection.
type mockDirectory struct {
	rootDSE *ldap.Entry
	dialErr error
}

func (d *mockDirectory) Dial(ctx context.Context, _ *ldapclient.DirectoryConfig, _ *ldapclient.ProtocolSettings) (ldapclient.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &mockConn{dir: d}, nil
}

type mockConn struct {
	dir *mockDirectory
}

func (c *mockConn) Bind(_, _ string) error {
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("invalid credentials"))
}

func (c *mockConn) GSSAPIBind(ldap.GSSAPIClient, string) error {
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("invalid credentials"))
}

func (c *mockConn) UnauthenticatedBind() error { return nil }

func (c *mockConn) Search(req *ldapclient.SearchRequest) ([]*ldap.Entry, error) {
	if req.BaseDN == "" && c.dir.rootDSE != nil {
		return []*ldap.Entry{c.dir.rootDSE}, nil
	}
	return nil, nil
}

func (c *mockConn) SetTimeout(time.Duration) {}

func (c *mockConn) Close() error { return nil }

// newMockProviderData returns provider data whose session talks to dir.
func newMockProviderData(t *testing.T, dir *mockDirectory) *ldapclient.ProviderData {
	t.Helper()

	session, err := ldapclient.NewSession(&ldapclient.DirectoryConfig{
		Host:   "ldap.example.com",
		BaseDN: DefaultTestBaseDN,
		Bind:   ldapclient.BindConfig{DN: DefaultTestBindDN},
	}, ldapclient.WithDialer(dir))
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	providerData, err := ldapclient.NewProviderData(session, 2)
	if err != nil {
		t.Fatalf("failed to create provider data: %v", err)
	}

	return providerData
}
