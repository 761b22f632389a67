// Package dictionary loads PDS4 data dictionaries (LDDs) into the
// dictionary index so field data types can be looked up when the registry
// mapping grows.
//
// A dictionary is identified by the schema URL found in a label. The
// matching JSON export sits next to the schema with the same base name.
// Which dictionary files have been loaded, and the latest dictionary date
// per namespace, is tracked in State and persisted as LDD_Info records in
// the dictionary index itself.
package dictionary

import (
	"time"
)

// DefaultDate is the last-loaded date of a namespace with no dictionary.
var DefaultDate = time.Date(1965, time.January, 1, 0, 0, 0, 0, time.UTC)

// InfoClassNamespace and InfoClassName identify LDD_Info records.
const (
	InfoClassNamespace = "registry"
	InfoClassName      = "LDD_Info"
)

// FieldRecord describes one attribute of one class, as stored in the
// dictionary index.
type FieldRecord struct {
	ClassNamespace string
	ClassName      string
	AttrNamespace  string
	AttrName       string

	// DataType is the dictionary value type; IndexType the index data type
	// derived from it.
	DataType  string
	IndexType string

	Description string
	IMVersion   string
	LDDVersion  string
	Date        time.Time
}

// ID is the index field name of the record, e.g. "geom:Body/geom:name".
func (r FieldRecord) ID() string {
	return r.ClassNamespace + ":" + r.ClassName + "/" + r.AttrNamespace + ":" + r.AttrName
}

// Document returns the dictionary index document for the record.
func (r FieldRecord) Document() map[string]string {
	doc := map[string]string{
		"es_field_name": r.ID(),
		"es_data_type":  r.IndexType,
		"class_ns":      r.ClassNamespace,
		"class_name":    r.ClassName,
		"attr_ns":       r.AttrNamespace,
		"attr_name":     r.AttrName,
		"data_type":     r.DataType,
		"im_version":    r.IMVersion,
		"ldd_version":   r.LDDVersion,
		"date":          r.Date.UTC().Format(time.RFC3339),
	}
	if r.Description != "" {
		doc["description"] = r.Description
	}
	return doc
}

// infoRecord is the LDD_Info record for a loaded dictionary file.
func infoRecord(namespace, file, imVersion, lddVersion string, date time.Time) FieldRecord {
	return FieldRecord{
		ClassNamespace: InfoClassNamespace,
		ClassName:      InfoClassName,
		AttrNamespace:  namespace,
		AttrName:       file,
		DataType:       "ASCII_Short_String_Collapsed",
		IndexType:      "keyword",
		IMVersion:      imVersion,
		LDDVersion:     lddVersion,
		Date:           date,
	}
}
