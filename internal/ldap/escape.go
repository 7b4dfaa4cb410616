package ldap

import (
	"github.com/go-ldap/ldap/v3"
)

// EscapeFilterValue escapes a value for safe interpolation into a search
// filter according to RFC 4515. The characters * ( ) \ and NUL, as well as
// any byte outside 7-bit ASCII, are written as \XX hex escapes, so a value
// such as "*)(uid=*" can only ever match itself.
func EscapeFilterValue(value string) string {
	return ldap.EscapeFilter(value)
}

// EscapeDNValue escapes a username for use as a single RDN value (RFC 4514),
// so "jdoe,ou=Admins" stays one value instead of adding an RDN.
func EscapeDNValue(value string) string {
	return ldap.EscapeDN(value)
}
