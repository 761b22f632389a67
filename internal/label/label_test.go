package label

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func fixedExtractor() *XMLExtractor {
	return &XMLExtractor{Now: func() time.Time {
		return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	}}
}

func TestExtractLabel(t *testing.T) {
	job := NewJob("job-1", "PDS_GEO", []string{"testdata|https://example.org/data"}, nil)
	p, err := fixedExtractor().Extract(filepath.Join("testdata", "bundle_geom.xml"), job)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if p.LID != "urn:nasa:pds:insight_cameras:data:0001" || p.VID != "1.0" {
		t.Errorf("lidvid = %q", p.LIDVID())
	}
	if p.Title != "InSight Camera Image 0001" {
		t.Errorf("title = %q", p.Title)
	}
	if p.ProductClass != "Product_Observational" {
		t.Errorf("product class = %q", p.ProductClass)
	}

	want := map[string]string{
		"pds:Identification_Area/pds:logical_identifier":      "urn:nasa:pds:insight_cameras:data:0001",
		"pds:Time_Coordinates/pds:start_date_time":            "2019-01-01T10:00:00Z",
		"pds:Time_Coordinates/pds:stop_date_time":             "3000-01-01T00:00:00Z",
		"geom:SPICE_Kernel_Files/geom:spice_kernel_file_name": "insight_v01.tm",
		"ref_lidvid_investigation":                            "urn:nasa:pds:context:investigation:mission.insight::1.0",
		"ref_lid_investigation":                               "urn:nasa:pds:context:investigation:mission.insight",
		"ref_lid_instrument":                                  "urn:nasa:pds:context:instrument:insight.idc",
		"ops:Label_File_Info/ops:file_name":                   "bundle_geom.xml",
		"ops:Label_File_Info/ops:file_ref":                    "https://example.org/data/bundle_geom.xml",
		"ops:Harvest_Info/ops:node_name":                      "PDS_GEO",
		"ops:Harvest_Info/ops:harvest_date_time":              "2024-05-06T07:08:09Z",
		"ops:Tracking_Meta/ops:archive_status":                ArchiveStatusStaged,
	}
	for name, v := range want {
		if got := p.Fields.First(name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}

	names := p.Fields.Values("pds:Internal_Reference/pds:reference_type")
	if !slices.Equal(names, []string{"data_to_investigation", "is_instrument"}) {
		t.Errorf("reference types = %v", names)
	}

	if got := p.SchemaLocations["geom"]; got != "https://pds.nasa.gov/pds4/geom/v1/PDS4_GEOM_1K00_1950.xsd" {
		t.Errorf("geom schema = %q", got)
	}
	if _, ok := p.SchemaLocations["pds"]; !ok {
		t.Error("pds schema location missing")
	}
}

func writeLabel(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "label.xml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractUnknownNamespace(t *testing.T) {
	path := writeLabel(t, `<Product xmlns="http://example.org/other">
  <Identification_Area><logical_identifier>urn:x</logical_identifier></Identification_Area>
</Product>`)
	_, err := fixedExtractor().Extract(path, NewJob("j", "", nil, nil))
	if !errors.Is(err, ErrUnknownNamespace) {
		t.Fatalf("err = %v, want ErrUnknownNamespace", err)
	}
}

func TestExtractNoIdentifier(t *testing.T) {
	path := writeLabel(t, `<Product xmlns="http://pds.nasa.gov/pds4/pds/v1">
  <Identification_Area><title>x</title></Identification_Area>
</Product>`)
	_, err := fixedExtractor().Extract(path, NewJob("j", "", nil, nil))
	if !errors.Is(err, ErrNoIdentifier) {
		t.Fatalf("err = %v, want ErrNoIdentifier", err)
	}
}

func TestExtractBadDate(t *testing.T) {
	path := writeLabel(t, `<Product xmlns="http://pds.nasa.gov/pds4/pds/v1">
  <Identification_Area><logical_identifier>urn:x</logical_identifier><version_id>1.0</version_id></Identification_Area>
  <Citation_Information><publication_year>last year</publication_year></Citation_Information>
</Product>`)
	job := NewJob("j", "", nil, []string{"pds:Citation_Information/pds:publication_year"})
	_, err := fixedExtractor().Extract(path, job)
	if err == nil || !strings.Contains(err.Error(), "unrecognized date") {
		t.Fatalf("err = %v, want date error", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := fixedExtractor().Extract(filepath.Join(t.TempDir(), "nope.xml"), NewJob("j", "", nil, nil))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name, value, want string
	}{
		{"start_date_time", "2020-03-04T05:06:07.5Z", "2020-03-04T05:06:07.5Z"},
		{"start_date_time", "2020-03-04T05:06:07", "2020-03-04T05:06:07Z"},
		{"start_date_time", "2020-03-04T05:06:07+02:00", "2020-03-04T03:06:07Z"},
		{"creation_date", "2020-03-04", "2020-03-04T00:00:00Z"},
		{"creation_date", "2020-064", "2020-03-04T00:00:00Z"},
		{"publication_year", "2020", "2020-01-01T00:00:00Z"},
		{"start_date_time", "UNK", "0001-01-01T00:00:00Z"},
		{"stop_date_time", "n/a", "3000-01-01T00:00:00Z"},
		{"end_date", "NULL", "3000-01-01T00:00:00Z"},
		{"start_date_time", "  ", ""},
	}
	for _, tt := range tests {
		got, err := NormalizeDate(tt.name, tt.value)
		if err != nil {
			t.Errorf("NormalizeDate(%q, %q): %v", tt.name, tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDate(%q, %q) = %q, want %q", tt.name, tt.value, got, tt.want)
		}
	}
}

func TestNewJobRules(t *testing.T) {
	job := NewJob("j", "n", []string{"/data/pds|https://pds.example/data", "bad-rule", "a|b|c"}, []string{"x"})
	if len(job.FileRefRules) != 1 {
		t.Fatalf("rules = %+v", job.FileRefRules)
	}
	if got := job.FileRef("/data/pds/bundle/a.xml"); got != "https://pds.example/data/bundle/a.xml" {
		t.Errorf("FileRef = %q", got)
	}
	if got := job.FileRef("/other/a.xml"); got != "/other/a.xml" {
		t.Errorf("FileRef unmatched = %q", got)
	}
	if _, ok := job.DateFields["x"]; !ok {
		t.Error("date field missing")
	}
}

func TestShortRefType(t *testing.T) {
	tests := map[string]string{
		"data_to_investigation": "investigation",
		"is_instrument":         "instrument",
		"bundle_has_member":     "member",
		"collection_curated_by": "collection_curated_by",
	}
	for in, want := range tests {
		if got := ShortRefType(in); got != want {
			t.Errorf("ShortRefType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFieldsOrder(t *testing.T) {
	f := NewFields()
	f.Add("b", "1")
	f.Add("a", "2")
	f.Add("b", "3")
	if !slices.Equal(f.Names(), []string{"b", "a"}) {
		t.Errorf("names = %v", f.Names())
	}
	if !slices.Equal(f.Values("b"), []string{"1", "3"}) {
		t.Errorf("values = %v", f.Values("b"))
	}
	if f.First("missing") != "" || f.Len() != 2 {
		t.Error("unexpected First/Len")
	}
}
