package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Active Directory stores these attributes as raw bytes.
const (
	AttributeObjectSID  = "objectSid"
	AttributeObjectGUID = "objectGUID"
)

// guidBytesLength is the size of a binary objectGUID value.
const guidBytesLength = 16

// NewEntry converts a search result into an Entry. Binary objectSid and
// objectGUID values are rendered as S-1-... and hyphenated GUID strings.
func NewEntry(entry *ldap.Entry) *Entry {
	if entry == nil {
		return nil
	}

	result := &Entry{
		DN:         entry.DN,
		Attributes: make(map[string][]string, len(entry.Attributes)),
	}

	for _, attr := range entry.Attributes {
		switch {
		case strings.EqualFold(attr.Name, AttributeObjectSID):
			result.Attributes[attr.Name] = renderBinary(attr, SIDBytesToString)
		case strings.EqualFold(attr.Name, AttributeObjectGUID):
			result.Attributes[attr.Name] = renderBinary(attr, GUIDBytesToString)
		default:
			result.Attributes[attr.Name] = append([]string(nil), attr.Values...)
		}
	}

	return result
}

// renderBinary converts each raw value, keeping the original string when
// conversion fails (e.g. a directory that already returns text).
func renderBinary(attr *ldap.EntryAttribute, convert func([]byte) (string, error)) []string {
	values := make([]string, 0, len(attr.ByteValues))
	for i, raw := range attr.ByteValues {
		rendered, err := convert(raw)
		if err != nil {
			if i < len(attr.Values) {
				rendered = attr.Values[i]
			} else {
				rendered = string(raw)
			}
		}
		values = append(values, rendered)
	}
	return values
}

// SIDBytesToString converts a binary SID to its S-1-5-21-... form.
func SIDBytesToString(binarySID []byte) (string, error) {
	// Revision 1, sub-authority count, 6-byte authority, 4 bytes per sub-authority.
	if len(binarySID) < 8 || binarySID[0] != 1 || len(binarySID) != 8+4*int(binarySID[1]) {
		return "", fmt.Errorf("invalid binary SID of length %d", len(binarySID))
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// GUIDBytesToString converts an Active Directory GUID to its standard string
// form. AD stores the first three fields little-endian and the last eight
// bytes as-is.
func GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(guidBytes))
	}

	var standard [guidBytesLength]byte
	standard[0], standard[1], standard[2], standard[3] = guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0]
	standard[4], standard[5] = guidBytes[5], guidBytes[4]
	standard[6], standard[7] = guidBytes[7], guidBytes[6]
	copy(standard[8:], guidBytes[8:])

	id, err := uuid.FromBytes(standard[:])
	if err != nil {
		return "", fmt.Errorf("failed to decode GUID: %w", err)
	}
	return id.String(), nil
}
