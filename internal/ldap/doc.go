/*
Package ldap authenticates users against an LDAP directory for the Terraform
ldapauth provider.

An authentication attempt is a short, sequential conversation with the
directory over its own connection:

  - connect, with optional LDAPS or StartTLS, and apply protocol options
  - bind as the user, as a service account, or anonymously
  - search the base DN for exactly one entry matching the account filter
  - bind with that entry's DN and the supplied password
  - search again and return the entry as the verified identity sees it

# Bind Strategies

The bind used before searching is chosen by BindStrategy from the bind
configuration. The first matching rule wins:

  - username and password supplied, no fixed password: bind as the user DN
    rendered from the bind.dn template, with the caller's password
  - username supplied and a fixed password configured: bind as the user DN
    with the fixed password
  - fixed password configured: bind as the literal bind.dn
  - anonymous enabled: anonymous bind
  - anything else is a configuration error

The "activedirectory" type additionally renders templates without "=" as
down-level ("EXAMPLE\%s") or UPN ("%s@example.com") bind names.

# Errors

Session.Authenticate returns *AuthError, which matches exactly one of
ErrConfiguration, ErrAuthenticationFailed and ErrTransport under errors.Is.
Credential failures never say whether the username exists. The underlying
cause is kept for logging through AuthError.Diagnostic.

# Concurrency

A Session holds no per-attempt state and may be shared. Use
NewLimitedAuthenticator to bound concurrent attempts.

# Example Usage

	session, err := ldap.NewSession(&ldap.DirectoryConfig{
		Host:   "ldap.example.com",
		BaseDN: "ou=Users,dc=example,dc=com",
		Filter: ldap.FilterConfig{Account: "(uid=?)"},
		Bind:   ldap.BindConfig{DN: "uid=%s,ou=Users,dc=example,dc=com"},
	})
	if err != nil {
		return err
	}

	entry, err := session.Authenticate(ctx, "jdoe", "hunter2")
	switch {
	case errors.Is(err, ldap.ErrAuthenticationFailed):
		// deny
	case err != nil:
		return err
	}
	fmt.Println(entry.DN, entry.GetAttributeValue("cn"))
*/
package ldap
