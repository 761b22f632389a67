// Package refs writes collection member references to the reference index.
//
// A collection inventory lists the products of a collection, each marked
// primary (P) or secondary (S). Batcher pages each reference type into
// fixed-size documents and bulk-loads them in groups.
package refs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
)

// RefType is a member status of a collection inventory.
type RefType int

// Reference types, in the order they are written.
const (
	Primary RefType = iota
	Secondary
)

// RefTypes lists all reference types in write order.
var RefTypes = []RefType{Primary, Secondary}

// ID is the one-letter code used in inventories and document ids.
func (t RefType) ID() string {
	if t == Secondary {
		return "S"
	}
	return "P"
}

func (t RefType) String() string {
	if t == Secondary {
		return "secondary"
	}
	return "primary"
}

// Reader streams the references of one type.
type Reader interface {
	References(t RefType) iter.Seq2[string, error]
}

// CSVInventory reads a PDS4 collection inventory table: delimited rows of
// member status and LID or LIDVID reference. The file is re-read for each
// reference type so memory stays bounded by the page buffer.
type CSVInventory struct {
	Path string

	// Delimiter separates fields; zero means comma.
	Delimiter rune
}

// References yields the references of type t in file order.
func (inv CSVInventory) References(t RefType) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f, err := os.Open(inv.Path)
		if err != nil {
			yield("", fmt.Errorf("open inventory: %w", err))
			return
		}
		defer func() { _ = f.Close() }()

		r := csv.NewReader(f)
		if inv.Delimiter != 0 {
			r.Comma = inv.Delimiter
		}
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		r.LazyQuotes = true
		r.ReuseRecord = true

		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read inventory %s: %w", inv.Path, err))
				return
			}
			if len(rec) < 2 || !strings.EqualFold(strings.TrimSpace(rec[0]), t.ID()) {
				continue
			}
			ref := strings.TrimSpace(rec[1])
			if ref == "" {
				continue
			}
			if !yield(ref, nil) {
				return
			}
		}
	}
}

// Slice is an in-memory Reader, keyed by reference type.
type Slice map[RefType][]string

// References yields the stored references of type t.
func (s Slice) References(t RefType) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, ref := range s[t] {
			if !yield(ref, nil) {
				return
			}
		}
	}
}
