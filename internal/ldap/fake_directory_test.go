package ldap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// bindCall records one bind sent to the fake directory.
type bindCall struct {
	DN        string
	Password  string
	Anonymous bool
	SPN       string // set for GSSAPI binds
}

// fakeDirectory is an in-memory directory shared by every fakeConn it hands out.
type fakeDirectory struct {
	mu sync.Mutex

	// accounts maps bind names to passwords accepted by Bind.
	accounts map[string]string
	// results maps search filters to the entries returned for them.
	results map[string][]*ldap.Entry
	// searchHook, when set, replaces results lookups.
	searchHook     func(call int, boundDN string, req *SearchRequest) ([]*ldap.Entry, error)
	allowAnonymous bool
	rootDSE        *ldap.Entry

	bindErr   error
	gssapiErr error
	searchErr error

	// gssapiClients holds the client handed to each GSSAPI bind.
	gssapiClients []ldap.GSSAPIClient

	binds    []bindCall
	searches []SearchRequest
	timeouts []time.Duration
	closed   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		accounts: make(map[string]string),
		results:  make(map[string][]*ldap.Entry),
	}
}

func (d *fakeDirectory) addAccount(dn, password string, attributes map[string][]string) *ldap.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[dn] = password
	return ldap.NewEntry(dn, attributes)
}

func (d *fakeDirectory) setResult(filter string, entries ...*ldap.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[filter] = entries
}

func (d *fakeDirectory) bindCalls() []bindCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bindCall(nil), d.binds...)
}

func (d *fakeDirectory) searchCalls() []SearchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SearchRequest(nil), d.searches...)
}

func (d *fakeDirectory) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// conn returns a new connection to the directory.
func (d *fakeDirectory) conn() *fakeConn {
	return &fakeConn{dir: d}
}

type fakeConn struct {
	dir     *fakeDirectory
	boundDN string
	closed  bool
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) Bind(dn, password string) error {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	d.binds = append(d.binds, bindCall{DN: dn, Password: password})

	if c.closed {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	if d.bindErr != nil {
		return d.bindErr
	}
	if password == "" {
		return ldap.NewError(ldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}
	if expected, ok := d.accounts[dn]; !ok || expected != password {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}

	c.boundDN = dn
	return nil
}

func (c *fakeConn) GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal string) error {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	d.binds = append(d.binds, bindCall{SPN: servicePrincipal})
	d.gssapiClients = append(d.gssapiClients, client)

	if d.bindErr != nil {
		return d.bindErr
	}
	if d.gssapiErr != nil {
		return d.gssapiErr
	}

	c.boundDN = servicePrincipal
	return nil
}

func (c *fakeConn) UnauthenticatedBind() error {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	d.binds = append(d.binds, bindCall{Anonymous: true})

	if d.bindErr != nil {
		return d.bindErr
	}
	if !d.allowAnonymous {
		return ldap.NewError(ldap.LDAPResultInappropriateAuthentication, errors.New("anonymous bind disallowed"))
	}

	c.boundDN = ""
	return nil
}

func (c *fakeConn) Search(req *SearchRequest) ([]*ldap.Entry, error) {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	d.searches = append(d.searches, *req)

	if d.searchErr != nil {
		return nil, d.searchErr
	}
	if req.BaseDN == "" && req.Scope == ScopeBaseObject && d.rootDSE != nil {
		return []*ldap.Entry{d.rootDSE}, nil
	}
	if d.searchHook != nil {
		return d.searchHook(len(d.searches), c.boundDN, req)
	}

	entries := d.results[req.Filter]
	if req.SizeLimit > 0 && len(entries) > req.SizeLimit {
		entries = entries[:req.SizeLimit]
	}
	return entries, nil
}

func (c *fakeConn) SetTimeout(timeout time.Duration) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.timeouts = append(c.dir.timeouts, timeout)
}

func (c *fakeConn) Close() error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.dir.closed++
	}
	return nil
}

// fakeDialer hands out connections to a fakeDirectory.
type fakeDialer struct {
	dir *fakeDirectory
	err error

	mu       sync.Mutex
	dials    int
	settings []ProtocolSettings
}

var _ Dialer = (*fakeDialer)(nil)

func (f *fakeDialer) Dial(ctx context.Context, _ *DirectoryConfig, settings *ProtocolSettings) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++
	f.settings = append(f.settings, *settings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.dir.conn(), nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}
