// Package model defines the data structures shared by the store, the
// services and the HTTP layer.
//
// The JSON tags describe the persisted document shape. Keys of the two
// documents (list name, username) are not repeated inside the values, so
// the Name/Username fields are tagged "-" and filled in by the store.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxAmount is the largest amount an item can hold.
const MaxAmount = 1_000_000

// Item is a single line entry of a List.
type Item struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Completed  bool   `json:"completed"`
	Amount     int    `json:"amount,omitempty"` // absent on some legacy items
	AddedBy    string `json:"addedBy,omitempty"`
	AuthorName string `json:"authorName,omitempty"`

	// Extra holds keys this server doesn't know about, so they survive a
	// rewrite of the document. Never modified after decoding.
	Extra map[string]json.RawMessage `json:"-"`
}

var itemKeys = map[string]bool{
	"id": true, "text": true, "completed": true,
	"amount": true, "addedBy": true, "authorName": true,
}

// UnmarshalJSON decodes an item leniently. Older servers stored whatever
// clients sent, so every known field accepts off-type values:
//
//	id, text, addedBy, authorName  numbers and booleans are kept as their text;
//	                               numeric ids come from Date.now()
//	completed                      JavaScript truthiness ("yes" is true, 0 is false)
//	amount                         numbers (or numeric strings) are rounded and
//	                               kept within [1, MaxAmount]; anything else is absent
//
// Only a value that is not an object (or null) is an error.
func (it *Item) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("item: %w", err)
	}

	*it = Item{}
	for key, raw := range fields {
		raw = bytes.TrimSpace(raw)
		switch key {
		case "id":
			it.ID = scalarText(raw)
		case "text":
			it.Text = scalarText(raw)
		case "completed":
			it.Completed = truthy(raw)
		case "amount":
			it.Amount = wholeAmount(raw)
		case "addedBy":
			it.AddedBy = scalarText(raw)
		case "authorName":
			it.AuthorName = scalarText(raw)
		default:
			if it.Extra == nil {
				it.Extra = make(map[string]json.RawMessage)
			}
			it.Extra[key] = raw
		}
	}
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
func (it Item) MarshalJSON() ([]byte, error) {
	type plain Item
	b, err := json.Marshal(plain(it))
	if err != nil || len(it.Extra) == 0 {
		return b, err
	}

	buf := bytes.NewBuffer(b[:len(b)-1]) // reopen the object
	for _, key := range slices.Sorted(maps.Keys(it.Extra)) {
		if itemKeys[key] {
			continue
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(it.Extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsZero reports whether it carries no data at all, as decoded from null.
func (it Item) IsZero() bool {
	return it.ID == "" && it.Text == "" && !it.Completed && it.Amount == 0 &&
		it.AddedBy == "" && it.AuthorName == "" && len(it.Extra) == 0
}

func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func truthy(raw json.RawMessage) bool {
	switch {
	case len(raw) == 0:
		return false
	case raw[0] == '"':
		var s string
		return json.Unmarshal(raw, &s) == nil && s != ""
	case raw[0] == '{' || raw[0] == '[':
		return true
	}
	switch string(raw) {
	case "true":
		return true
	case "false", "null":
		return false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	return err == nil && f != 0 && !math.IsNaN(f)
}

func wholeAmount(raw json.RawMessage) int {
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return int(min(max(math.Round(f), 1), MaxAmount))
}

// SameText reports whether two item texts are duplicates of each other.
// Duplicate detection ignores case and surrounding whitespace; id lookups
// never do.
func SameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ItemPatch is a sanitized partial update. Nil fields are left untouched.
type ItemPatch struct {
	Text      *string
	Completed *bool
	Amount    *int
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.Amount == nil
}

// Apply merges the patch into it.
func (p ItemPatch) Apply(it *Item) {
	if p.Text != nil {
		it.Text = *p.Text
	}
	if p.Completed != nil {
		it.Completed = *p.Completed
	}
	if p.Amount != nil {
		it.Amount = *p.Amount
	}
}

// List is a named collection of items. It exclusively owns its Items.
type List struct {
	Name        string     `json:"-"`
	DisplayName string     `json:"displayName,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatorName string     `json:"creatorName,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt"`
	Items       []Item     `json:"items"`
}

// Clone returns a deep copy of l.
func (l *List) Clone() *List {
	c := *l
	c.Items = append([]Item(nil), l.Items...)
	if c.Items == nil {
		c.Items = []Item{}
	}
	if l.CreatedAt != nil {
		t := *l.CreatedAt
		c.CreatedAt = &t
	}
	if l.UpdatedAt != nil {
		t := *l.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// IndexOf returns the position of the item with the given id, or -1.
// The comparison is exact and case-sensitive.
func (l *List) IndexOf(id string) int {
	for i := range l.Items {
		if l.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Touch records a structural change.
func (l *List) Touch(now time.Time) {
	t := now.UTC()
	l.UpdatedAt = &t
}

// Summary returns the listing metadata for l.
func (l *List) Summary() ListSummary {
	return ListSummary{
		Name:        l.Name,
		DisplayName: l.DisplayName,
		CreatedBy:   l.CreatedBy,
		CreatorName: l.CreatorName,
		UpdatedAt:   l.UpdatedAt,
		ItemCount:   len(l.Items),
	}
}

// ListSummary is what the list overview shows for each List.
type ListSummary struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatorName string     `json:"creatorName,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt"`
	ItemCount   int        `json:"itemCount"`
}
