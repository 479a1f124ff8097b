//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/model"
)

func setFindFlags(t *testing.T, name, first, last, domain string) {
	t.Helper()
	findName, findFirst, findLast, findDomain = name, first, last, domain
	t.Cleanup(func() { findName, findFirst, findLast, findDomain = "", "", "", "" })
}

func TestFindContact(t *testing.T) {
	setFindFlags(t, "John Doe", "", "", "example.com")
	c, err := findContact()
	require.NoError(t, err)
	assert.Equal(t, "John Doe", c.FullName)
	assert.Equal(t, "example.com", c.Domain)

	setFindFlags(t, "", "Jane", "Roe", "https://acme.io")
	c, err = findContact()
	require.NoError(t, err)
	first, last := c.Names()
	assert.Equal(t, "Jane", first)
	assert.Equal(t, "Roe", last)
}

func TestFindContact_Missing(t *testing.T) {
	setFindFlags(t, "John Doe", "", "", "")
	_, err := findContact()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--domain")

	setFindFlags(t, "", "Jane", "", "acme.io")
	_, err = findContact()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name")
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, &model.ContactResult{
		Contact: model.Contact{FullName: "John Doe", Domain: "example.com"},
		Email:   "john.doe@example.com",
		Score:   9,
	}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "john.doe@example.com", out["email"])
	assert.Equal(t, float64(9), out["email_confidence"])
	assert.Contains(t, buf.String(), "\n  \"", "indented")
}
