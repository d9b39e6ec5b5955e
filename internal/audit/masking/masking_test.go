package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("SAM"))
	assert.Equal(t, "****6789", MaskSecret("W123456789"))
}

func TestMaskPHI(t *testing.T) {
	got := MaskPHI(map[string]any{
		"member_id": "W123456789",
		"status":    "Submitted",
		"subscriber": map[string]any{
			"last_name": "LEE",
			"gender":    "M",
		},
		"address": map[string]any{"city": "AUSTIN", "zip": 78701},
		"lines":   []any{map[string]any{"cpt": "92507", "dob": "20160210"}},
		"":        "dropped",
	})

	assert.Equal(t, map[string]any{
		"member_id":  "****6789",
		"status":     "Submitted",
		"subscriber": map[string]any{"last_name": "****", "gender": "M"},
		"address":    map[string]any{"city": "****STIN", "zip": "****"},
		"lines":      []any{map[string]any{"cpt": "92507", "dob": "****0210"}},
	}, got)
	assert.Nil(t, MaskPHI(nil))
}
