package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("123"))
	assert.Equal(t, "****5678", MaskSecret("0812-1234-5678"))
	assert.Equal(t, "****@shop.test", MaskSecret("owner@shop.test"))
}

func TestMaskJSONOnlyTouchesContacts(t *testing.T) {
	phone := "0812000111"
	masked := MaskJSON(map[string]any{
		"name":    "Pak Budi",
		"Phone":   &phone,
		"total":   12.5,
		"changes": map[string]any{"address": "Jl. Melati 12"},
		"":        "dropped",
	})

	assert.Equal(t, "Pak Budi", masked["name"])
	assert.Equal(t, "****0111", masked["Phone"])
	assert.Equal(t, 12.5, masked["total"])
	assert.Equal(t, map[string]any{"address": "****i 12"}, masked["changes"])
	assert.NotContains(t, masked, "")
	assert.Nil(t, MaskJSON(nil))
}
