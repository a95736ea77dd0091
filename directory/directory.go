// Package directory is the Active Directory client of the compile run: it
// resolves filter tokens to directory identities and carries the policy
// object reads and writes.
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/time/rate"

	"github.com/DMoenks/group-policy-drive-maps/logger"
)

// Config describes how to reach and authenticate against the directory.
type Config struct {
	Address             string
	Port                int
	UseTLS              bool
	BindUser            string
	BindPassword        string
	MaxLookupsPerSecond int
}

// Client wraps one bound LDAP connection. Methods are not safe for
// concurrent use; the run is strictly sequential.
type Client struct {
	conn      ldapConn
	limiter   *rate.Limiter
	baseDN    string
	domainDNS string
}

// ldapConn is the slice of *ldap.Conn the client uses, separated so tests
// can stand in for the wire.
type ldapConn interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(*ldap.AddRequest) error
	Modify(*ldap.ModifyRequest) error
	Close() error
}

// Connect dials the directory, binds, and discovers the default naming
// context from the root DSE.
func Connect(cfg Config) (*Client, error) {
	scheme := "ldap"
	var opts []ldap.DialOpt
	if cfg.UseTLS {
		scheme = "ldaps"
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{ServerName: cfg.Address}))
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, cfg.Address, cfg.Port)
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not reach directory at %s: %w", url, err)
	}

	if cfg.BindUser != "" {
		err = conn.Bind(cfg.BindUser, cfg.BindPassword)
	} else {
		err = conn.UnauthenticatedBind("")
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("directory bind failed: %w", err)
	}

	client := &Client{conn: conn, limiter: newLimiter(cfg.MaxLookupsPerSecond)}
	if err := client.discoverRoot(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debugf("Connected to %s, base DN %s", url, client.baseDN)
	return client, nil
}

func newLimiter(perSecond int) *rate.Limiter {
	if perSecond > 0 {
		return rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return rate.NewLimiter(rate.Inf, 1)
}

func (c *Client) discoverRoot() error {
	req := ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"defaultNamingContext"}, nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return fmt.Errorf("root DSE query failed: %w", err)
	}
	if len(res.Entries) == 0 {
		return fmt.Errorf("root DSE query returned no entry")
	}
	c.baseDN = res.Entries[0].GetAttributeValue("defaultNamingContext")
	if c.baseDN == "" {
		return fmt.Errorf("directory did not report a default naming context")
	}
	c.domainDNS = dnsNameFromDN(c.baseDN)
	return nil
}

// dnsNameFromDN turns "DC=corp,DC=local" into "corp.local". Non-DC
// components are ignored.
func dnsNameFromDN(dn string) string {
	var parts []string
	for _, component := range strings.Split(dn, ",") {
		component = strings.TrimSpace(component)
		if rest, found := strings.CutPrefix(strings.ToUpper(component), "DC="); found {
			parts = append(parts, strings.ToLower(rest))
		}
	}
	return strings.Join(parts, ".")
}

// DomainDNSName returns the DNS name of the connected domain.
func (c *Client) DomainDNSName() string {
	return c.domainDNS
}

// BaseDN returns the default naming context of the connected domain.
func (c *Client) BaseDN() string {
	return c.baseDN
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) wait() {
	_ = c.limiter.Wait(context.Background())
}

// ResolvePrincipal looks up the named account in the connected domain and
// returns its SID. A missing account is (_, false, nil); only transport or
// data failures return an error.
func (c *Client) ResolvePrincipal(domain, name string) (string, bool, error) {
	c.wait()
	req := ldap.NewSearchRequest(
		c.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(name)),
		[]string{"objectSid", "msDS-PrincipalName"}, nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return "", false, fmt.Errorf("principal lookup for %s\\%s failed: %w", domain, name, err)
	}
	for _, entry := range res.Entries {
		if !principalDomainMatches(entry.GetAttributeValue("msDS-PrincipalName"), domain) {
			continue
		}
		raw := entry.GetRawAttributeValue("objectSid")
		if len(raw) == 0 {
			continue
		}
		sid, err := SIDFromBytes(raw)
		if err != nil {
			return "", false, fmt.Errorf("could not decode SID of %s: %w", entry.DN, err)
		}
		return sid, true, nil
	}
	return "", false, nil
}

// principalDomainMatches checks the NetBIOS half of msDS-PrincipalName
// against the requested domain. Entries without the attribute are accepted:
// the search already ran inside the requested domain's naming context.
func principalDomainMatches(principalName, domain string) bool {
	if principalName == "" {
		return true
	}
	half, _, found := strings.Cut(principalName, `\`)
	if !found {
		return true
	}
	return strings.EqualFold(half, domain)
}

// ResolveOrgUnit confirms that an organizational unit with the given
// distinguished name exists. A missing OU is (false, nil).
func (c *Client) ResolveOrgUnit(dn string) (bool, error) {
	c.wait()
	req := ldap.NewSearchRequest(
		dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=organizationalUnit)", []string{"ou"}, nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, fmt.Errorf("organizational unit lookup for %s failed: %w", dn, err)
	}
	return len(res.Entries) > 0, nil
}
