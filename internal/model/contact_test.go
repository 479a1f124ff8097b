package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactUnmarshal_Aliases(t *testing.T) {
	t.Parallel()

	var c Contact
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Jane Doe","company_domain":"acme.io","crm_id":42}`), &c))

	assert.Equal(t, "Jane Doe", c.FullName)
	assert.Equal(t, "acme.io", c.Domain)
	assert.Equal(t, float64(42), c.Extra["crm_id"])
}

func TestContactMarshal_FlattensExtra(t *testing.T) {
	t.Parallel()

	c := Contact{FirstName: "Jane", Domain: "acme.io", Extra: map[string]any{"crm_id": "x1"}}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Jane", out["first_name"])
	assert.Equal(t, "acme.io", out["domain"])
	assert.Equal(t, "x1", out["crm_id"])
	assert.NotContains(t, out, "last_name")
}

func TestContactNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		contact   Contact
		wantFirst string
		wantLast  string
	}{
		{"explicit", Contact{FirstName: "John", LastName: "Doe"}, "John", "Doe"},
		{"full name", Contact{FullName: "John Q Doe"}, "John", "Doe"},
		{"single token", Contact{FullName: "Cher"}, "Cher", "Cher"},
		{"fills missing last", Contact{FirstName: "Jon", FullName: "John Doe"}, "Jon", "Doe"},
		{"nothing", Contact{}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			first, last := tt.contact.Names()
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
