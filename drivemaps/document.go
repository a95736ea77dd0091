package drivemaps

import (
	"bytes"
	"encoding/xml"
)

// Class identifiers of the Drive Maps preference document, fixed by the
// consuming client-side extension.
const (
	DrivesClsid = "{8FDDCC1A-0C3C-43cd-A6B4-71A6DF20DA8C}"
	DriveClsid  = "{935D1B74-9CB8-4e3c-9914-7DD559B7A417}"
)

// MappingRow is one record of the input table: a UNC path, a drive letter,
// an optional label, and an optional free-text access filter expression.
type MappingRow struct {
	Path             string
	Letter           string
	Label            string
	FilterExpression string
}

// Drives is the root of the compiled preference document.
type Drives struct {
	XMLName xml.Name `xml:"Drives"`
	Clsid   string   `xml:"clsid,attr"`
	Entries []Drive  `xml:"Drive"`
}

// Drive is one compiled mapping entry. RemovePolicy is only carried in
// Replace mode; the attribute must be absent, not "0", otherwise.
type Drive struct {
	Clsid        string     `xml:"clsid,attr"`
	Name         string     `xml:"name,attr"`
	Status       string     `xml:"status,attr"`
	Image        int        `xml:"image,attr"`
	Changed      string     `xml:"changed,attr"`
	UID          string     `xml:"uid,attr"`
	RemovePolicy string     `xml:"removePolicy,attr,omitempty"`
	UserContext  string     `xml:"userContext,attr"`
	BypassErrors string     `xml:"bypassErrors,attr"`
	Properties   Properties `xml:"Properties"`
	Filters      *Filters   `xml:"Filters,omitempty"`
}

// Properties carries the mapping itself. Label is omitted entirely when the
// input row had no label.
type Properties struct {
	Action     string `xml:"action,attr"`
	ThisDrive  string `xml:"thisDrive,attr"`
	AllDrives  string `xml:"allDrives,attr"`
	UserName   string `xml:"userName,attr"`
	Path       string `xml:"path,attr"`
	Label      string `xml:"label,attr,omitempty"`
	Persistent string `xml:"persistent,attr"`
	UseLetter  string `xml:"useLetter,attr"`
	Letter     string `xml:"letter,attr"`
}

// Filters holds the resolved access filters of one entry, principals before
// organizational units.
type Filters struct {
	Groups   []FilterGroup   `xml:"FilterGroup"`
	OrgUnits []FilterOrgUnit `xml:"FilterOrgUnit"`
}

// FilterGroup targets the entry at members of a security group.
type FilterGroup struct {
	Bool         string `xml:"bool,attr"`
	Not          string `xml:"not,attr"`
	Name         string `xml:"name,attr"`
	SID          string `xml:"sid,attr"`
	UserContext  string `xml:"userContext,attr"`
	PrimaryGroup string `xml:"primaryGroup,attr"`
	LocalGroup   string `xml:"localGroup,attr"`
}

// FilterOrgUnit targets the entry at accounts below an organizational unit.
type FilterOrgUnit struct {
	Bool         string `xml:"bool,attr"`
	Not          string `xml:"not,attr"`
	Name         string `xml:"name,attr"`
	UserContext  string `xml:"userContext,attr"`
	DirectMember string `xml:"directMember,attr"`
}

// Marshal renders the document as indented UTF-8 XML with a declaration and
// no byte-order mark, the form the consuming endpoints expect.
func Marshal(doc *Drives) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\r\n")
	buf.Write(body)
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
