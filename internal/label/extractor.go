// Package label turns PDS4 XML labels into flat registry field maps.
//
// Every leaf element becomes a field named after its parent and itself,
// "ns:Parent/ns:leaf", so the same attribute under different classes stays
// distinct. Internal references are additionally exposed as
// ref_lid_<type> / ref_lidvid_<type> fields.
package label

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PDSNamespace is the PDS4 common namespace. Labels often declare it as the
// default namespace, so its prefix is fixed.
const PDSNamespace = "http://pds.nasa.gov/pds4/pds/v1"

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// ArchiveStatusStaged is the archive status of a freshly harvested product.
const ArchiveStatusStaged = "staged"

var (
	// ErrNoIdentifier is returned for labels without a logical identifier.
	ErrNoIdentifier = errors.New("label has no logical identifier")
	// ErrUnknownNamespace is returned for elements in undeclared namespaces.
	ErrUnknownNamespace = errors.New("unknown namespace")
)

var globalPrefixes = map[string]string{
	PDSNamespace: "pds",
}

// Extractor extracts a product from a label file.
type Extractor interface {
	Extract(path string, job *Job) (*Product, error)
}

// Product is the metadata of one label.
type Product struct {
	LID          string
	VID          string
	Title        string
	ProductClass string

	Fields *Fields

	// SchemaLocations maps namespace prefix to schema (.xsd) URL.
	SchemaLocations map[string]string
}

// LIDVID returns "lid::vid".
func (p *Product) LIDVID() string {
	return p.LID + "::" + p.VID
}

// XMLExtractor reads labels with encoding/xml.
type XMLExtractor struct {
	// Now stamps ops:Harvest_Info/ops:harvest_date_time. Defaults to time.Now.
	Now func() time.Time
}

// NewXMLExtractor creates an extractor using the wall clock.
func NewXMLExtractor() *XMLExtractor {
	return &XMLExtractor{Now: time.Now}
}

// Extract parses the label at path.
func (x *XMLExtractor) Extract(path string, job *Job) (*Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	p, err := x.parse(f, job)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	p.Fields.Add("ops:Label_File_Info/ops:file_name", filepath.Base(path))
	p.Fields.Add("ops:Label_File_Info/ops:file_ref", job.FileRef(path))
	p.Fields.Add("ops:Label_File_Info/ops:file_size", strconv.FormatInt(info.Size(), 10))
	p.Fields.Add("ops:Label_File_Info/ops:creation_date_time", info.ModTime().UTC().Format(time.RFC3339))
	if job.NodeName != "" {
		p.Fields.Add("ops:Harvest_Info/ops:node_name", job.NodeName)
	}
	p.Fields.Add("ops:Harvest_Info/ops:harvest_date_time", now().UTC().Format(time.RFC3339))
	p.Fields.Add("ops:Tracking_Meta/ops:archive_status", ArchiveStatusStaged)
	return p, nil
}

type frame struct {
	name     xml.Name
	text     strings.Builder
	hasChild bool
}

type reference struct {
	lid, lidvid, typ string
}

type parser struct {
	job      *Job
	prefixes map[string]string
	stack    []*frame
	product  *Product
	ref      *reference
}

// parse reads a label from r without the ops:* file fields.
func (x *XMLExtractor) parse(r io.Reader, job *Job) (*Product, error) {
	ps := &parser{
		job:      job,
		prefixes: make(map[string]string, len(globalPrefixes)),
		product: &Product{
			Fields:          NewFields(),
			SchemaLocations: make(map[string]string),
		},
	}
	for ns, prefix := range globalPrefixes {
		ps.prefixes[ns] = prefix
	}

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := ps.start(t); err != nil {
				return nil, err
			}
		case xml.CharData:
			if n := len(ps.stack); n > 0 {
				ps.stack[n-1].text.Write(t)
			}
		case xml.EndElement:
			if err := ps.end(); err != nil {
				return nil, err
			}
		}
	}

	p := ps.product
	if p.LID == "" {
		return nil, ErrNoIdentifier
	}
	return p, nil
}

func (ps *parser) start(t xml.StartElement) error {
	var locations string
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "xmlns":
			ps.declare(a.Value, a.Name.Local)
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			// Default namespace; only the pds one has a known prefix.
			if _, ok := ps.prefixes[a.Value]; !ok && a.Value == PDSNamespace {
				ps.declare(a.Value, "pds")
			}
		case a.Name.Space == xsiNamespace && a.Name.Local == "schemaLocation":
			locations = a.Value
		}
	}
	if locations != "" {
		ps.schemaLocations(locations)
	}

	if len(ps.stack) == 0 {
		ps.product.ProductClass = t.Name.Local
	} else {
		ps.stack[len(ps.stack)-1].hasChild = true
	}
	if t.Name.Local == "Internal_Reference" {
		ps.ref = &reference{}
	}
	ps.stack = append(ps.stack, &frame{name: t.Name})
	return nil
}

func (ps *parser) declare(ns, prefix string) {
	if _, ok := ps.prefixes[ns]; !ok {
		ps.prefixes[ns] = prefix
	}
}

func (ps *parser) schemaLocations(v string) {
	parts := strings.Fields(v)
	for i := 0; i+1 < len(parts); i += 2 {
		if prefix, ok := ps.prefixes[parts[i]]; ok {
			ps.product.SchemaLocations[prefix] = parts[i+1]
		}
	}
}

func (ps *parser) end() error {
	n := len(ps.stack)
	if n == 0 {
		return nil
	}
	fr := ps.stack[n-1]
	ps.stack = ps.stack[:n-1]

	if fr.name.Local == "Internal_Reference" && ps.ref != nil {
		ps.addReference(*ps.ref)
		ps.ref = nil
		return nil
	}
	if fr.hasChild || n < 2 {
		return nil
	}

	value := strings.Join(strings.Fields(fr.text.String()), " ")
	if value == "" {
		return nil
	}
	parent := ps.stack[n-2].name
	name, err := ps.fieldName(parent, fr.name)
	if err != nil {
		return err
	}
	if ps.isDate(name, fr.name.Local) {
		if value, err = NormalizeDate(fr.name.Local, value); err != nil {
			return err
		}
	}
	ps.product.Fields.Add(name, value)

	if parent.Local == "Identification_Area" && parent.Space == PDSNamespace {
		switch fr.name.Local {
		case "logical_identifier":
			ps.product.LID = value
		case "version_id":
			ps.product.VID = value
		case "title":
			ps.product.Title = value
		}
	}
	if ps.ref != nil && parent.Local == "Internal_Reference" {
		switch fr.name.Local {
		case "lid_reference":
			ps.ref.lid = value
		case "lidvid_reference":
			ps.ref.lidvid = value
		case "reference_type":
			ps.ref.typ = value
		}
	}
	return nil
}

func (ps *parser) fieldName(parent, leaf xml.Name) (string, error) {
	pp, ok := ps.prefixes[parent.Space]
	if !ok {
		return "", fmt.Errorf("%w %q on %s", ErrUnknownNamespace, parent.Space, parent.Local)
	}
	lp, ok := ps.prefixes[leaf.Space]
	if !ok {
		return "", fmt.Errorf("%w %q on %s", ErrUnknownNamespace, leaf.Space, leaf.Local)
	}
	return pp + ":" + parent.Local + "/" + lp + ":" + leaf.Local, nil
}

func (ps *parser) isDate(field, local string) bool {
	if strings.Contains(strings.ToLower(local), "date") {
		return true
	}
	if ps.job == nil {
		return false
	}
	_, ok := ps.job.DateFields[field]
	return ok
}

func (ps *parser) addReference(r reference) {
	if r.typ == "" {
		return
	}
	typ := ShortRefType(r.typ)
	lid := r.lid
	if r.lidvid != "" {
		ps.product.Fields.Add("ref_lidvid_"+typ, r.lidvid)
		if l, _, ok := strings.Cut(r.lidvid, "::"); ok && lid == "" {
			lid = l
		}
	}
	if lid != "" {
		ps.product.Fields.Add("ref_lid_"+typ, lid)
	}
}

// ShortRefType reduces a PDS4 reference type such as
// "data_to_investigation" or "is_instrument" to its target ("investigation",
// "instrument").
func ShortRefType(t string) string {
	if _, after, ok := strings.Cut(t, "_to_"); ok {
		return after
	}
	if after, ok := strings.CutPrefix(t, "is_"); ok {
		return after
	}
	if _, after, ok := strings.Cut(t, "_has_"); ok {
		return after
	}
	return t
}
