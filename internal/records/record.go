// Package records is the private record store used as the sync hub between
// installations.
package records

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Kind is the type tag of a record.
type Kind string

const (
	KindCredentials  Kind = "APICredentials"
	KindAppMetadata  Kind = "AppMetadata"
	KindApp          Kind = "App"
	KindReview       Kind = "Review"
	KindUserSettings Kind = "UserSettings"
)

const (
	CredentialsName  = "credentials"
	UserSettingsName = "usersettings"
)

func AppName(appID string) string         { return "app_" + appID }
func AppMetadataName(appID string) string { return "appmeta_" + appID }
func ReviewName(reviewID string) string   { return "review_" + reviewID }

// Record is a type tagged flat attribute map stored under a deterministic name.
type Record struct {
	Name      string         `json:"name"`
	Kind      Kind           `json:"kind"`
	Fields    map[string]any `json:"fields"`
	ChangeTag string         `json:"change_tag,omitempty"`
	Modified  time.Time      `json:"modified"`
}

// Clone copies the record and its fields.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = cloneFields(r.Fields)
	return &c
}

// Get returns the value of a field or nil.
func (r *Record) Get(key string) any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.([]string); ok {
			v = slices.Clone(s)
		}
		out[k] = v
	}
	return out
}

// applyChanges writes the listed keys of src onto dst; a missing or nil
// value removes the key.
func applyChanges(dst, src map[string]any, keys []string) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(keys))
	}
	for _, k := range keys {
		v, ok := src[k]
		if !ok || v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}

// changedKeys lists the keys whose values differ between base and desired,
// including keys of base that desired no longer has.
func changedKeys(base, desired map[string]any) []string {
	var keys []string
	for k, v := range desired {
		if !equalValue(base[k], v) {
			keys = append(keys, k)
		}
	}
	for k := range base {
		if _, ok := desired[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// equalValue compares values by their JSON form so a value read back from a
// JSON backend equals the one that was written.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}

// Predicate is an equality filter on one field.
type Predicate struct {
	Field string
	Value any
}

// Eq creates a predicate matching records where field == value.
func Eq(field string, value any) *Predicate {
	return &Predicate{Field: field, Value: value}
}

// Match reports whether r satisfies p. A nil predicate matches everything.
func (p *Predicate) Match(r *Record) bool {
	if p == nil {
		return true
	}
	return equalValue(r.Get(p.Field), p.Value)
}

func filter(recs []*Record, pred *Predicate) []*Record {
	if pred == nil {
		return recs
	}
	return slices.DeleteFunc(recs, func(r *Record) bool { return !pred.Match(r) })
}

func sortedNames(m map[string]*Record) []string {
	return slices.Sorted(maps.Keys(m))
}
