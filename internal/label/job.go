package label

import (
	"strings"
)

// FileRefRule rewrites the leading Prefix of a label path to Replacement
// when recording where the label can be fetched from.
type FileRefRule struct {
	Prefix      string
	Replacement string
}

// Job carries the per-batch extraction settings.
type Job struct {
	ID       string
	NodeName string

	FileRefRules []FileRefRule

	// DateFields are extra field names whose values are normalized as dates.
	DateFields map[string]struct{}
}

// NewJob builds a Job. Rules are "prefix|replacement" strings; malformed
// rules are ignored.
func NewJob(id, nodeName string, rules, dateFields []string) *Job {
	j := &Job{ID: id, NodeName: nodeName, DateFields: make(map[string]struct{}, len(dateFields))}
	for _, r := range rules {
		prefix, repl, ok := strings.Cut(r, "|")
		if !ok || prefix == "" || strings.Contains(repl, "|") {
			continue
		}
		j.FileRefRules = append(j.FileRefRules, FileRefRule{Prefix: prefix, Replacement: repl})
	}
	for _, f := range dateFields {
		j.DateFields[f] = struct{}{}
	}
	return j
}

// FileRef applies the first matching rule to path.
func (j *Job) FileRef(path string) string {
	for _, r := range j.FileRefRules {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Replacement + path[len(r.Prefix):]
		}
	}
	return path
}
