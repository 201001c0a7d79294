// Package validate holds the pure, stateless checks applied to client
// input before any mutation is attempted.
//
// Every function either returns a normalized value or an
// apperror.ValidationFailed carrying the offending field and a reason the
// client can show as-is.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/model"
)

const (
	MaxTextLength        = 128
	MaxAmount            = model.MaxAmount
	MaxListNameLength    = 64
	MaxDisplayNameLength = 64
	MaxUsernameLength    = 32
	DefaultAddedBy       = "Guest"
)

// updatable is the allow-list of item fields a PATCH may touch.
var updatable = map[string]bool{
	"text":      true,
	"completed": true,
	"amount":    true,
}

// ItemInput is an item as submitted by a client.
type ItemInput struct {
	ID         string
	Text       string
	Amount     json.RawMessage // absent, or a JSON number
	Completed  bool
	AddedBy    string
	AuthorName string
}

// Item validates a new item and returns it normalized: text trimmed,
// amount defaulted to 1, attribution defaulted to Guest. The id is passed
// through untouched; the store decides whether to keep it.
func Item(in ItemInput) (model.Item, error) {
	text, err := Text(in.Text)
	if err != nil {
		return model.Item{}, err
	}

	amount := 1
	if present(in.Amount) {
		if amount, err = Amount(in.Amount); err != nil {
			return model.Item{}, err
		}
	}

	addedBy := strings.TrimSpace(in.AddedBy)
	if addedBy == "" {
		addedBy = DefaultAddedBy
	}

	return model.Item{
		ID:         strings.TrimSpace(in.ID),
		Text:       text,
		Completed:  in.Completed,
		Amount:     amount,
		AddedBy:    addedBy,
		AuthorName: strings.TrimSpace(in.AuthorName),
	}, nil
}

// Text checks an item text and returns it trimmed.
func Text(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperror.ValidationFailed("text", "item text is required")
	}
	if utf8.RuneCountInString(s) > MaxTextLength {
		return "", apperror.ValidationFailed("text",
			fmt.Sprintf("item text must be %d characters or less", MaxTextLength))
	}
	return s, nil
}

// Amount decodes a raw JSON amount. It must be a whole number ≥ 1.
func Amount(raw json.RawMessage) (int, error) {
	var n json.Number
	if isString(raw) {
		return 0, apperror.ValidationFailed("amount", "amount must be a number")
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, apperror.ValidationFailed("amount", "amount must be a number")
	}
	v, err := n.Int64()
	if err != nil {
		return 0, apperror.ValidationFailed("amount", "amount must be a whole number")
	}
	if v < 1 {
		return 0, apperror.ValidationFailed("amount", "amount must be at least 1")
	}
	if v > MaxAmount {
		return 0, apperror.ValidationFailed("amount",
			fmt.Sprintf("amount must be %d or less", MaxAmount))
	}
	return int(v), nil
}

// Delta checks an amount adjustment.
func Delta(d int) error {
	if d == 0 {
		return apperror.ValidationFailed("delta", "delta must not be zero")
	}
	if d > MaxAmount || d < -MaxAmount {
		return apperror.ValidationFailed("delta", "delta is out of range")
	}
	return nil
}

// SanitizeUpdate filters a partial update through the allow-list and
// validates what remains. Unknown keys are dropped, never applied.
func SanitizeUpdate(fields map[string]json.RawMessage) (model.ItemPatch, error) {
	var patch model.ItemPatch
	for key, raw := range fields {
		if !updatable[key] {
			continue
		}
		switch key {
		case "text":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil || !isString(raw) {
				return model.ItemPatch{}, apperror.ValidationFailed("text", "invalid text for update")
			}
			text, err := Text(s)
			if err != nil {
				return model.ItemPatch{}, err
			}
			patch.Text = &text
		case "completed":
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil || !isBool(raw) {
				return model.ItemPatch{}, apperror.ValidationFailed("completed", "completed must be true or false")
			}
			patch.Completed = &b
		case "amount":
			amount, err := Amount(raw)
			if err != nil {
				return model.ItemPatch{}, err
			}
			patch.Amount = &amount
		}
	}
	if patch.Empty() {
		return model.ItemPatch{}, apperror.ValidationFailed("", "no updatable fields provided")
	}
	return patch, nil
}

// ListName checks a caller-chosen list name. Names appear in URLs and are
// never changed after creation. Any language is fine ("Einkäufe",
// "Weekend BBQ"); characters that would split or end a URL path segment
// are not.
func ListName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperror.ValidationFailed("name", "list name is required")
	}
	if !utf8.ValidString(name) {
		return apperror.ValidationFailed("name", "list name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxListNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("list name must be %d characters or less", MaxListNameLength))
	}
	if name != strings.TrimSpace(name) {
		return apperror.ValidationFailed("name", "list name must not start or end with spaces")
	}
	if name == "." || name == ".." {
		return apperror.ValidationFailed("name", "list name must not be '.' or '..'")
	}
	if strings.ContainsAny(name, `/\?#%`) || strings.ContainsFunc(name, unicode.IsControl) {
		return apperror.ValidationFailed("name",
			`list name must not contain '/', '\', '?', '#', '%' or control characters`)
	}
	return nil
}

// DisplayName trims a user-facing label. An empty label is allowed; the
// caller picks the fallback.
func DisplayName(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxDisplayNameLength {
		return "", apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or less", field, MaxDisplayNameLength))
	}
	return s, nil
}

// Username returns the normalized form of a username.
func Username(s string) (string, error) {
	u := model.NormalizeUsername(s)
	if u == "" {
		return "", apperror.ValidationFailed("username", "username is required")
	}
	if utf8.RuneCountInString(u) > MaxUsernameLength {
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if strings.ContainsAny(u, "/?#") {
		return "", apperror.ValidationFailed("username", "username must not contain '/', '?' or '#'")
	}
	return u, nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func isBool(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return bytes.Equal(raw, []byte("true")) || bytes.Equal(raw, []byte("false"))
}
