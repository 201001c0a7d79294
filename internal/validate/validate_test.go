package validate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/shared-lists/internal/apperror"
)

func TestItem(t *testing.T) {
	tests := []struct {
		name       string
		in         ItemInput
		wantErr    bool
		wantField  string
		wantText   string
		wantAmount int
	}{
		{name: "minimal item gets defaults", in: ItemInput{Text: "Milk"}, wantText: "Milk", wantAmount: 1},
		{name: "text is trimmed", in: ItemInput{Text: "  Bread \n"}, wantText: "Bread", wantAmount: 1},
		{name: "explicit amount", in: ItemInput{Text: "Eggs", Amount: json.RawMessage(`12`)}, wantText: "Eggs", wantAmount: 12},
		{name: "null amount defaults", in: ItemInput{Text: "Eggs", Amount: json.RawMessage(`null`)}, wantText: "Eggs", wantAmount: 1},
		{name: "max length text", in: ItemInput{Text: strings.Repeat("a", MaxTextLength)}, wantText: strings.Repeat("a", MaxTextLength), wantAmount: 1},
		{name: "multibyte text counts runes", in: ItemInput{Text: strings.Repeat("ü", MaxTextLength)}, wantText: strings.Repeat("ü", MaxTextLength), wantAmount: 1},
		{name: "empty text", in: ItemInput{Text: ""}, wantErr: true, wantField: "text"},
		{name: "whitespace text", in: ItemInput{Text: "   "}, wantErr: true, wantField: "text"},
		{name: "oversized text", in: ItemInput{Text: strings.Repeat("a", MaxTextLength+1)}, wantErr: true, wantField: "text"},
		{name: "zero amount", in: ItemInput{Text: "x", Amount: json.RawMessage(`0`)}, wantErr: true, wantField: "amount"},
		{name: "negative amount", in: ItemInput{Text: "x", Amount: json.RawMessage(`-3`)}, wantErr: true, wantField: "amount"},
		{name: "fractional amount", in: ItemInput{Text: "x", Amount: json.RawMessage(`1.5`)}, wantErr: true, wantField: "amount"},
		{name: "string amount", in: ItemInput{Text: "x", Amount: json.RawMessage(`"5"`)}, wantErr: true, wantField: "amount"},
		{name: "boolean amount", in: ItemInput{Text: "x", Amount: json.RawMessage(`true`)}, wantErr: true, wantField: "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := Item(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperror.ErrValidation))
				var appErr *apperror.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.wantField, appErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, item.Text)
			assert.Equal(t, tt.wantAmount, item.Amount)
		})
	}
}

func TestItem_Attribution(t *testing.T) {
	item, err := Item(ItemInput{Text: "Milk"})
	require.NoError(t, err)
	assert.Equal(t, DefaultAddedBy, item.AddedBy)

	item, err = Item(ItemInput{Text: "Milk", AddedBy: " alice ", AuthorName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", item.AddedBy)
	assert.Equal(t, "Alice", item.AuthorName)
}

func TestSanitizeUpdate(t *testing.T) {
	t.Run("drops unknown keys", func(t *testing.T) {
		patch, err := SanitizeUpdate(map[string]json.RawMessage{
			"completed": json.RawMessage(`true`),
			"id":        json.RawMessage(`"hijack"`),
			"addedBy":   json.RawMessage(`"mallory"`),
		})
		require.NoError(t, err)
		require.NotNil(t, patch.Completed)
		assert.True(t, *patch.Completed)
		assert.Nil(t, patch.Text)
		assert.Nil(t, patch.Amount)
	})

	t.Run("trims text", func(t *testing.T) {
		patch, err := SanitizeUpdate(map[string]json.RawMessage{"text": json.RawMessage(`"  Oat milk "`)})
		require.NoError(t, err)
		require.NotNil(t, patch.Text)
		assert.Equal(t, "Oat milk", *patch.Text)
	})

	t.Run("accepts amount", func(t *testing.T) {
		patch, err := SanitizeUpdate(map[string]json.RawMessage{"amount": json.RawMessage(`4`)})
		require.NoError(t, err)
		require.NotNil(t, patch.Amount)
		assert.Equal(t, 4, *patch.Amount)
	})

	rejects := map[string]map[string]json.RawMessage{
		"empty text":         {"text": json.RawMessage(`""`)},
		"numeric text":       {"text": json.RawMessage(`42`)},
		"oversized text":     {"text": json.RawMessage(`"` + strings.Repeat("b", MaxTextLength+1) + `"`)},
		"string completed":   {"completed": json.RawMessage(`"yes"`)},
		"null completed":     {"completed": json.RawMessage(`null`)},
		"sub-1 amount":       {"amount": json.RawMessage(`0`)},
		"non-numeric amount": {"amount": json.RawMessage(`"many"`)},
		"only unknown keys":  {"colour": json.RawMessage(`"red"`)},
		"nothing at all":     {},
	}
	for name, fields := range rejects {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := SanitizeUpdate(fields)
			assert.True(t, errors.Is(err, apperror.ErrValidation), "err = %v", err)
		})
	}
}

func TestListName(t *testing.T) {
	for _, ok := range []string{
		"groceries", "Weekend_BBQ", "a-1", "Einkäufe", "Weekend BBQ", "dots.are.fine", "買い物",
		strings.Repeat("x", MaxListNameLength), strings.Repeat("ä", MaxListNameLength),
	} {
		assert.NoError(t, ListName(ok), ok)
	}
	for _, bad := range []string{
		"", "   ", " padded", "slash/name", `back\slash`, "what?", "hash#tag", "100%", ".", "..",
		"tab\tname", "bad\xffutf8", strings.Repeat("x", MaxListNameLength+1),
	} {
		assert.Error(t, ListName(bad), bad)
	}
}

func TestUsername(t *testing.T) {
	u, err := Username("  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u)

	_, err = Username("   ")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = Username(strings.Repeat("z", MaxUsernameLength+1))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = Username("a/b")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestDisplayName(t *testing.T) {
	got, err := DisplayName("displayName", "  Groceries  ")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got)

	_, err = DisplayName("displayName", strings.Repeat("n", MaxDisplayNameLength+1))
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestDelta(t *testing.T) {
	assert.NoError(t, Delta(1))
	assert.NoError(t, Delta(-1))
	assert.Error(t, Delta(0))
	assert.Error(t, Delta(MaxAmount+1))
}
