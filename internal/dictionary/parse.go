package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Dictionary is a parsed LDD JSON export.
type Dictionary struct {
	IMVersion  string
	LDDVersion string
	Date       time.Time
	// ZoneGuessed is set when Date carried a zone abbreviation with no
	// known offset; Date was then read as if the zone were UTC.
	ZoneGuessed bool

	attributes   map[string]attribute
	associations []association
}

type attribute struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	NameSpaceID string `json:"nameSpaceId"`
	DataType    string `json:"dataType"`
	Description string `json:"description"`
}

type association struct {
	classNs   string
	className string
	attrID    string
}

type lddFile []struct {
	DataDictionary struct {
		Version         string `json:"Version"`
		LDDVersion      string `json:"LDD_Version"`
		Date            string `json:"Date"`
		ClassDictionary []struct {
			Class struct {
				Identifier      string `json:"identifier"`
				AssociationList []struct {
					Association struct {
						IsAttribute string   `json:"isAttribute"`
						AttributeID []string `json:"attributeId"`
					} `json:"association"`
				} `json:"associationList"`
			} `json:"class"`
		} `json:"classDictionary"`
		AttributeDictionary []struct {
			Attribute attribute `json:"attribute"`
		} `json:"attributeDictionary"`
	} `json:"dataDictionary"`
}

// ErrNoDictionary is returned for a JSON document without a dataDictionary.
var ErrNoDictionary = errors.New("dictionary: no dataDictionary element")

// Parse reads an LDD JSON export.
func Parse(r io.Reader) (*Dictionary, error) {
	var f lddFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	if len(f) == 0 {
		return nil, ErrNoDictionary
	}
	dd := f[0].DataDictionary

	date, known, err := parseDate(dd.Date)
	if err != nil {
		return nil, err
	}
	d := &Dictionary{
		IMVersion:   dd.Version,
		LDDVersion:  dd.LDDVersion,
		Date:        date,
		ZoneGuessed: !known,
		attributes:  make(map[string]attribute, len(dd.AttributeDictionary)),
	}
	for _, a := range dd.AttributeDictionary {
		d.attributes[a.Attribute.Identifier] = a.Attribute
	}
	for _, c := range dd.ClassDictionary {
		// Identifiers look like "0001_NASA_PDS_1.geom.Body_Identification_Base".
		tokens := strings.Split(c.Class.Identifier, ".")
		if len(tokens) < 3 {
			continue
		}
		for _, al := range c.Class.AssociationList {
			if al.Association.IsAttribute != "true" {
				continue
			}
			for _, id := range al.Association.AttributeID {
				d.associations = append(d.associations, association{
					classNs:   tokens[1],
					className: tokens[2],
					attrID:    id,
				})
			}
		}
	}
	return d, nil
}

// TypeLookup maps a dictionary value type to an index type.
type TypeLookup interface {
	Lookup(dictType string) string
}

// Records returns one FieldRecord per class/attribute association whose
// class belongs to namespace, in dictionary order. Associations whose
// attribute is not defined in the dictionary are skipped.
func (d *Dictionary) Records(namespace string, types TypeLookup) []FieldRecord {
	var out []FieldRecord
	seen := make(map[string]struct{})
	for _, as := range d.associations {
		if as.classNs != namespace {
			continue
		}
		a, ok := d.attributes[as.attrID]
		if !ok {
			continue
		}
		r := FieldRecord{
			ClassNamespace: as.classNs,
			ClassName:      as.className,
			AttrNamespace:  a.NameSpaceID,
			AttrName:       a.Title,
			DataType:       a.DataType,
			IndexType:      types.Lookup(a.DataType),
			Description:    a.Description,
			IMVersion:      d.IMVersion,
			LDDVersion:     d.LDDVersion,
			Date:           d.Date,
		}
		if _, dup := seen[r.ID()]; dup {
			continue
		}
		seen[r.ID()] = struct{}{}
		out = append(out, r)
	}
	return out
}

// lddLayout is the dictionary date format with the zone replaced by a
// numeric offset, e.g. "Wed Dec 23 10:16:28 -0500 2020".
const lddLayout = "Mon Jan 02 15:04:05 -0700 2006"

// zoneOffsets resolves the zone abbreviations found in dictionary dates.
// time.Parse only knows the local zone's abbreviations.
var zoneOffsets = map[string]string{
	"UTC": "+0000", "GMT": "+0000", "Z": "+0000",
	"EST": "-0500", "EDT": "-0400",
	"CST": "-0600", "CDT": "-0500",
	"MST": "-0700", "MDT": "-0600",
	"PST": "-0800", "PDT": "-0700",
	"AKST": "-0900", "AKDT": "-0800",
	"HST": "-1000",
}

// lddZoneLayout reads any zone abbreviation. Abbreviations time does not
// know get a zero offset.
const lddZoneLayout = "Mon Jan 02 15:04:05 MST 2006"

// ParseDate parses a dictionary date such as "Wed Dec 23 10:16:28 EST 2020".
// A zone abbreviation outside the known table is accepted and read as UTC.
func ParseDate(s string) (time.Time, error) {
	t, _, err := parseDate(s)
	return t, err
}

// parseDate reports whether the zone offset was known.
func parseDate(s string) (time.Time, bool, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return time.Time{}, false, fmt.Errorf("invalid dictionary date %q", s)
	}
	layout, known := lddZoneLayout, false
	if off, ok := zoneOffsets[strings.ToUpper(fields[4])]; ok {
		fields[4] = off
		layout, known = lddLayout, true
	} else if isNumericZone(fields[4]) {
		layout, known = lddLayout, true
	}
	t, err := time.Parse(layout, strings.Join(fields, " "))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid dictionary date %q: %w", s, err)
	}
	if !known {
		// The abbreviation may name the local zone, which time.Parse resolves.
		_, off := t.Zone()
		known = off != 0
	}
	return t.UTC(), known, nil
}

func isNumericZone(z string) bool {
	if len(z) != 5 || (z[0] != '+' && z[0] != '-') {
		return false
	}
	for _, c := range z[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
