package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/model"
)

func TestDomainFromInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		domain  string
		website string
	}{
		{"example.com", "example.com", "https://example.com"},
		{"Example.COM", "example.com", "https://example.com"},
		{"www.example.com", "example.com", "https://www.example.com"},
		{"https://www.example.com/about?x=1", "example.com", "https://www.example.com"},
		{"http://example.com:8080/", "example.com", "http://example.com"},
		{"  shop.example.co.uk  ", "shop.example.co.uk", "https://shop.example.co.uk"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			d, w, err := DomainFromInput(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.domain, d)
			assert.Equal(t, tt.website, w)
		})
	}
}

func TestDomainFromInput_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"localhost", "co.uk", "com", "ftp://example.com", "exa mple.com", "https://"} {
		_, _, err := DomainFromInput(in)
		assert.Error(t, err, in)
	}
}

func TestNormalizeContact(t *testing.T) {
	t.Parallel()

	vc, err := NormalizeContact(model.Contact{FirstName: " John ", LastName: "Doe", Domain: "https://www.Example.com/team"})
	require.NoError(t, err)
	assert.Equal(t, model.ValidatedContact{
		FirstName: "John",
		LastName:  "Doe",
		Domain:    "example.com",
		Website:   "https://www.example.com",
	}, vc)
}

func TestNormalizeContact_FullName(t *testing.T) {
	t.Parallel()

	vc, err := NormalizeContact(model.Contact{FullName: "Mary Ann Smith", Domain: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Mary", vc.FirstName)
	assert.Equal(t, "Smith", vc.LastName)
}

func TestNormalizeContact_Missing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		c      model.Contact
		reason string
	}{
		{"all", model.Contact{}, "Missing first name, last name, domain"},
		{"domain", model.Contact{FirstName: "John", LastName: "Doe"}, "Missing domain"},
		{"last", model.Contact{FirstName: "John", Domain: "example.com"}, "Missing last name"},
		{"symbols only", model.Contact{FirstName: "!!", LastName: "Doe", Domain: "example.com"}, "Missing first name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NormalizeContact(tt.c)
			var ie *InputError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.reason, ie.Reason)
		})
	}
}

func TestNormalizeContact_BadDomain(t *testing.T) {
	t.Parallel()

	_, err := NormalizeContact(model.Contact{FirstName: "John", LastName: "Doe", Domain: "co.uk"})
	var ie *InputError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Reason, "Cannot extract domain from input 'co.uk'")
}
