package pipeline

import (
	"strings"

	"harvest/internal/label"
	"harvest/internal/registry"
	"harvest/internal/schema"
)

// docWriter accumulates the bulk pairs of one batch and the fields they
// use that the registry mapping does not have yet.
type docWriter struct {
	cache *schema.Cache
	pairs []registry.Pair
	files []string

	missing []string
	// seen records whether each field name used so far is missing.
	seen map[string]bool
	// sources maps schema URL to namespace prefix for missing fields.
	sources map[string]string
}

func newDocWriter(cache *schema.Cache) *docWriter {
	return &docWriter{
		cache:   cache,
		seen:    make(map[string]bool),
		sources: make(map[string]string),
	}
}

// write adds the registry document of p, keyed by its lidvid.
func (w *docWriter) write(file string, p *label.Product, jobID string) error {
	doc := map[string]any{
		"lid":           p.LID,
		"vid":           p.VID,
		"lidvid":        p.LIDVID(),
		"product_class": p.ProductClass,
		"_package_id":   jobID,
	}
	if p.Title != "" {
		doc["title"] = p.Title
	}

	for _, name := range p.Fields.Names() {
		values := p.Fields.Values(name)
		switch len(values) {
		case 0:
			continue
		case 1:
			if values[0] == "" {
				continue
			}
			doc[name] = values[0]
		default:
			doc[name] = values
		}
		w.track(name, p.SchemaLocations)
	}

	pair, err := registry.IndexPair(p.LIDVID(), doc)
	if err != nil {
		return err
	}
	w.pairs = append(w.pairs, pair)
	w.files = append(w.files, file)
	return nil
}

func (w *docWriter) track(name string, locations map[string]string) {
	missing, ok := w.seen[name]
	if !ok {
		missing = w.cache == nil || !w.cache.Contains(name)
		w.seen[name] = missing
		if missing {
			w.missing = append(w.missing, name)
		}
	}
	if !missing {
		return
	}
	if prefix, _, ok := strings.Cut(name, ":"); ok {
		if url, ok := locations[prefix]; ok {
			w.sources[url] = prefix
		}
	}
}
