package directory

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

type fakeConn struct {
	search func(*ldap.SearchRequest) (*ldap.SearchResult, error)
	adds   []*ldap.AddRequest
	mods   []*ldap.ModifyRequest
	addErr error
	modErr error
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return f.search(req)
}

func (f *fakeConn) Add(req *ldap.AddRequest) error {
	f.adds = append(f.adds, req)
	return f.addErr
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.mods = append(f.mods, req)
	return f.modErr
}

func (f *fakeConn) Close() error {
	return nil
}

func testClient(conn ldapConn) *Client {
	return &Client{conn: conn, limiter: newLimiter(0), baseDN: "DC=corp,DC=local", domainDNS: "corp.local"}
}

func sidBytes(revision byte, authority uint64, subauthorities ...uint32) []byte {
	b := []byte{revision, byte(len(subauthorities))}
	for shift := 40; shift >= 0; shift -= 8 {
		b = append(b, byte(authority>>shift))
	}
	for _, sub := range subauthorities {
		b = binary.LittleEndian.AppendUint32(b, sub)
	}
	return b
}

func TestSIDFromBytes(t *testing.T) {
	sid, err := SIDFromBytes(sidBytes(1, 5, 21, 1, 2, 3, 513))
	if err != nil {
		t.Fatalf("SIDFromBytes failed: %v", err)
	}
	if sid != "S-1-5-21-1-2-3-513" {
		t.Errorf("Expected S-1-5-21-1-2-3-513, got %s", sid)
	}
	if _, err := SIDFromBytes([]byte{1, 1, 0}); err == nil {
		t.Error("Expected an error for a truncated value")
	}
	if _, err := SIDFromBytes(sidBytes(1, 5, 21, 1)[:12]); err == nil {
		t.Error("Expected an error for a subauthority count mismatch")
	}
}

func TestDNSNameFromDN(t *testing.T) {
	cases := map[string]string{
		"DC=corp,DC=local":                   "corp.local",
		"dc=example,dc=com":                  "example.com",
		"OU=Sales,DC=corp,DC=example,DC=com": "corp.example.com",
		"DC=corp, DC=local":                  "corp.local",
	}
	for dn, expected := range cases {
		if got := dnsNameFromDN(dn); got != expected {
			t.Errorf("dnsNameFromDN(%q) = %q, expected %q", dn, got, expected)
		}
	}
}

func TestPrincipalDomainMatches(t *testing.T) {
	if !principalDomainMatches(`CORP\Sales`, "corp") {
		t.Error("Expected a case-insensitive domain match")
	}
	if principalDomainMatches(`OTHER\Sales`, "corp") {
		t.Error("Expected a mismatch for a foreign domain")
	}
	if !principalDomainMatches("", "corp") {
		t.Error("Expected entries without the attribute to be accepted")
	}
}

func TestResolvePrincipal(t *testing.T) {
	raw := string(sidBytes(1, 5, 21, 100, 200, 300, 1105))
	conn := &fakeConn{search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if !strings.Contains(req.Filter, "sAMAccountName=Sales") {
			t.Errorf("Unexpected filter %s", req.Filter)
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry("CN=Sales,DC=other,DC=local", map[string][]string{
				"msDS-PrincipalName": {`OTHER\Sales`},
				"objectSid":          {raw},
			}),
			ldap.NewEntry("CN=Sales,DC=corp,DC=local", map[string][]string{
				"msDS-PrincipalName": {`CORP\Sales`},
				"objectSid":          {raw},
			}),
		}}, nil
	}}
	sid, found, err := testClient(conn).ResolvePrincipal("CORP", "Sales")
	if err != nil {
		t.Fatalf("ResolvePrincipal failed: %v", err)
	}
	if !found {
		t.Fatal("Expected the principal to be found")
	}
	if sid != "S-1-5-21-100-200-300-1105" {
		t.Errorf("Expected S-1-5-21-100-200-300-1105, got %s", sid)
	}
}

func TestResolvePrincipalMissing(t *testing.T) {
	conn := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return &ldap.SearchResult{}, nil
	}}
	_, found, err := testClient(conn).ResolvePrincipal("CORP", "Nobody")
	if err != nil {
		t.Fatalf("ResolvePrincipal failed: %v", err)
	}
	if found {
		t.Error("Expected a missing principal to report not found")
	}
}

func TestResolvePrincipalSearchError(t *testing.T) {
	conn := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return nil, fmt.Errorf("connection reset")
	}}
	if _, _, err := testClient(conn).ResolvePrincipal("CORP", "Sales"); err == nil {
		t.Error("Expected a transport failure to surface as an error")
	}
}

func TestResolveOrgUnit(t *testing.T) {
	conn := &fakeConn{search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if req.BaseDN != "OU=Sales,DC=corp,DC=local" {
			t.Errorf("Unexpected base DN %s", req.BaseDN)
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry(req.BaseDN, map[string][]string{"ou": {"Sales"}}),
		}}, nil
	}}
	found, err := testClient(conn).ResolveOrgUnit("OU=Sales,DC=corp,DC=local")
	if err != nil {
		t.Fatalf("ResolveOrgUnit failed: %v", err)
	}
	if !found {
		t.Error("Expected the organizational unit to be found")
	}
}

func TestResolveOrgUnitMissing(t *testing.T) {
	conn := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object"))
	}}
	found, err := testClient(conn).ResolveOrgUnit("OU=Gone,DC=corp,DC=local")
	if err != nil {
		t.Fatalf("ResolveOrgUnit failed: %v", err)
	}
	if found {
		t.Error("Expected a missing organizational unit to report not found")
	}
}

func TestFindPolicy(t *testing.T) {
	conn := &fakeConn{search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if req.BaseDN != "CN=Policies,CN=System,DC=corp,DC=local" {
			t.Errorf("Unexpected base DN %s", req.BaseDN)
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry("CN={11111111-2222-3333-4444-555555555555},CN=Policies,CN=System,DC=corp,DC=local", map[string][]string{
				"cn":            {"{11111111-2222-3333-4444-555555555555}"},
				"displayName":   {"Drive Maps"},
				"versionNumber": {"65537"},
			}),
		}}, nil
	}}
	policy, err := testClient(conn).FindPolicy("Drive Maps")
	if err != nil {
		t.Fatalf("FindPolicy failed: %v", err)
	}
	if policy == nil {
		t.Fatal("Expected the policy to be found")
	}
	if policy.GUID != "{11111111-2222-3333-4444-555555555555}" {
		t.Errorf("Unexpected GUID %s", policy.GUID)
	}
	if policy.Version != 65537 {
		t.Errorf("Expected version 65537, got %d", policy.Version)
	}
}

func TestFindPolicyMissing(t *testing.T) {
	conn := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return &ldap.SearchResult{}, nil
	}}
	policy, err := testClient(conn).FindPolicy("Nonexistent")
	if err != nil {
		t.Fatalf("FindPolicy failed: %v", err)
	}
	if policy != nil {
		t.Errorf("Expected no policy, got %s", policy.DN)
	}
}

func TestCreatePolicy(t *testing.T) {
	conn := &fakeConn{}
	policy, err := testClient(conn).CreatePolicy("Drive Maps")
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if !strings.HasPrefix(policy.GUID, "{") || !strings.HasSuffix(policy.GUID, "}") {
		t.Errorf("Expected a braced GUID, got %s", policy.GUID)
	}
	if policy.GUID != strings.ToUpper(policy.GUID) {
		t.Errorf("Expected an upper-case GUID, got %s", policy.GUID)
	}
	if len(conn.adds) != 3 {
		t.Fatalf("Expected 3 add requests, got %d", len(conn.adds))
	}
	if conn.adds[0].DN != fmt.Sprintf("CN=%s,CN=Policies,CN=System,DC=corp,DC=local", policy.GUID) {
		t.Errorf("Unexpected policy DN %s", conn.adds[0].DN)
	}
	if !strings.HasPrefix(conn.adds[1].DN, "CN=User,") || !strings.HasPrefix(conn.adds[2].DN, "CN=Machine,") {
		t.Errorf("Expected User and Machine sub-containers, got %s and %s", conn.adds[1].DN, conn.adds[2].DN)
	}
	path := attributeValue(t, conn.adds[0].Attributes, "gPCFileSysPath")
	expected := fmt.Sprintf(`\\corp.local\SYSVOL\corp.local\Policies\%s`, policy.GUID)
	if path != expected {
		t.Errorf("Expected file system path %s, got %s", expected, path)
	}
}

func TestUpdatePolicyVersion(t *testing.T) {
	conn := &fakeConn{}
	policy := &Policy{DN: "CN={X},CN=Policies,CN=System,DC=corp,DC=local", GUID: "{X}"}
	if err := testClient(conn).UpdatePolicyVersion(policy, 65538); err != nil {
		t.Fatalf("UpdatePolicyVersion failed: %v", err)
	}
	if policy.Version != 65538 {
		t.Errorf("Expected the policy struct to track version 65538, got %d", policy.Version)
	}
	if len(conn.mods) != 1 {
		t.Fatalf("Expected 1 modify request, got %d", len(conn.mods))
	}
	if got := changeValue(t, conn.mods[0], "versionNumber"); got != "65538" {
		t.Errorf("Expected versionNumber 65538, got %s", got)
	}
	if got := changeValue(t, conn.mods[0], "gPCUserExtensionNames"); got != UserExtensionNames {
		t.Errorf("Unexpected user extension names %s", got)
	}
}

func TestMarkMachineExtensions(t *testing.T) {
	conn := &fakeConn{}
	policy := &Policy{DN: "CN={X},CN=Policies,CN=System,DC=corp,DC=local", GUID: "{X}"}
	if err := testClient(conn).MarkMachineExtensions(policy); err != nil {
		t.Fatalf("MarkMachineExtensions failed: %v", err)
	}
	if len(conn.mods) != 1 {
		t.Fatalf("Expected 1 modify request, got %d", len(conn.mods))
	}
	if got := changeValue(t, conn.mods[0], "gPCMachineExtensionNames"); got != MachineExtensionNames {
		t.Errorf("Unexpected machine extension names %s", got)
	}
}

func attributeValue(t *testing.T, attributes []ldap.Attribute, name string) string {
	t.Helper()
	for _, attribute := range attributes {
		if attribute.Type == name && len(attribute.Vals) > 0 {
			return attribute.Vals[0]
		}
	}
	t.Fatalf("Attribute %s not present", name)
	return ""
}

func changeValue(t *testing.T, req *ldap.ModifyRequest, name string) string {
	t.Helper()
	for _, change := range req.Changes {
		if change.Modification.Type == name && len(change.Modification.Vals) > 0 {
			return change.Modification.Vals[0]
		}
	}
	t.Fatalf("Modification %s not present", name)
	return ""
}
