package directory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/DMoenks/group-policy-drive-maps/logger"
)

// Extension-name attribute values marking the policy object for client-side
// processing. The user pair announces the Drive Maps preference extension,
// the machine pair the registry policy extension backing Registry.pol.
const (
	UserExtensionNames    = "[{00000000-0000-0000-0000-000000000000}{2EA1A81B-48E5-45E9-8BB7-A6E3AC170006}][{5794DAFD-BE60-433F-88A2-1A31939AC01F}{2EA1A81B-48E5-45E9-8BB7-A6E3AC170006}]"
	MachineExtensionNames = "[{35378EAC-683F-11D2-A89A-00C04FBBCFA2}{D02B1F72-3407-48AE-BA88-E8213C6761F1}]"
)

// Policy is the directory half of a Group Policy Object.
type Policy struct {
	DN          string
	GUID        string
	DisplayName string
	Version     uint32
}

func (c *Client) policiesDN() string {
	return "CN=Policies,CN=System," + c.baseDN
}

// FindPolicy looks up a policy object by display name. A missing policy is
// (nil, nil).
func (c *Client) FindPolicy(displayName string) (*Policy, error) {
	c.wait()
	req := ldap.NewSearchRequest(
		c.policiesDN(), ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectClass=groupPolicyContainer)(displayName=%s))", ldap.EscapeFilter(displayName)),
		[]string{"cn", "displayName", "versionNumber"}, nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("policy lookup for %q failed: %w", displayName, err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	if len(res.Entries) > 1 {
		logger.Warnf("Display name %q matches %d policy objects, using %s", displayName, len(res.Entries), res.Entries[0].DN)
	}
	entry := res.Entries[0]
	version, _ := strconv.ParseUint(entry.GetAttributeValue("versionNumber"), 10, 32)
	return &Policy{
		DN:          entry.DN,
		GUID:        entry.GetAttributeValue("cn"),
		DisplayName: entry.GetAttributeValue("displayName"),
		Version:     uint32(version),
	}, nil
}

// CreatePolicy creates a fresh policy object with a new GUID, including its
// User and Machine sub-containers. The SYSVOL folder skeleton is the
// store's job, not the directory's.
func (c *Client) CreatePolicy(displayName string) (*Policy, error) {
	guid := "{" + strings.ToUpper(uuid.New().String()) + "}"
	dn := fmt.Sprintf("CN=%s,%s", guid, c.policiesDN())

	add := ldap.NewAddRequest(dn, nil)
	add.Attribute("objectClass", []string{"top", "container", "groupPolicyContainer"})
	add.Attribute("displayName", []string{displayName})
	add.Attribute("gPCFunctionalityVersion", []string{"2"})
	add.Attribute("flags", []string{"0"})
	add.Attribute("versionNumber", []string{"0"})
	add.Attribute("gPCFileSysPath", []string{fmt.Sprintf(`\\%s\SYSVOL\%s\Policies\%s`, c.domainDNS, c.domainDNS, guid)})
	if err := c.conn.Add(add); err != nil {
		return nil, fmt.Errorf("could not create policy object %s: %w", dn, err)
	}

	for _, sub := range []string{"User", "Machine"} {
		subAdd := ldap.NewAddRequest(fmt.Sprintf("CN=%s,%s", sub, dn), nil)
		subAdd.Attribute("objectClass", []string{"top", "container"})
		if err := c.conn.Add(subAdd); err != nil {
			return nil, fmt.Errorf("could not create %s container of %s: %w", sub, guid, err)
		}
	}

	logger.Infof("Created policy object %s (%s)", displayName, guid)
	return &Policy{DN: dn, GUID: guid, DisplayName: displayName, Version: 0}, nil
}

// UpdatePolicyVersion publishes the new version counter and the user
// extension pair on the policy object. Consumers detect the version change
// and reapply the preference document.
func (c *Client) UpdatePolicyVersion(p *Policy, version uint32) error {
	mod := ldap.NewModifyRequest(p.DN, nil)
	mod.Replace("versionNumber", []string{strconv.FormatUint(uint64(version), 10)})
	mod.Replace("gPCUserExtensionNames", []string{UserExtensionNames})
	if err := c.conn.Modify(mod); err != nil {
		return fmt.Errorf("could not update policy object %s: %w", p.GUID, err)
	}
	p.Version = version
	return nil
}

// MarkMachineExtensions announces the registry policy extension after the
// Registry.pol guard first writes the file.
func (c *Client) MarkMachineExtensions(p *Policy) error {
	mod := ldap.NewModifyRequest(p.DN, nil)
	mod.Replace("gPCMachineExtensionNames", []string{MachineExtensionNames})
	if err := c.conn.Modify(mod); err != nil {
		return fmt.Errorf("could not mark machine extensions on %s: %w", p.GUID, err)
	}
	return nil
}
