package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyOf(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"corporate domain", "jane@acme.io", "acme.io"},
		{"webmail keeps full address", "user@gmail.com", "user@gmail.com"},
		{"uppercase is normalized", "Jane@ACME.io", "acme.io"},
		{"webmail uppercase", "User@GMAIL.com", "user@gmail.com"},
		{"whitespace is trimmed", "  jane@acme.io ", "acme.io"},
		{"no at sign", "not-an-address", "not-an-address"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyOf(tt.address))
		})
	}
}

func TestKeyOfIsStable(t *testing.T) {
	matcher := NewMatcher(nil)
	first := matcher.KeyOf("recruiter@newco.com")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, matcher.KeyOf("recruiter@newco.com"))
	}
}

func TestMatcherExtraWebmailDomains(t *testing.T) {
	matcher := NewMatcher([]string{"corpmail.example"})
	assert.Equal(t, "someone@corpmail.example", matcher.KeyOf("someone@corpmail.example"))
	assert.Equal(t, "acme.io", matcher.KeyOf("jane@acme.io"))
}

func TestCompanyNameFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"newco.com", "Newco"},
		{"big-corp.io", "Big Corp"},
		{"under_score.dev", "Under Score"},
		{"jane.doe@gmail.com", "Jane Doe"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, CompanyNameFromKey(tt.key))
		})
	}
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "acme.io", DomainOf("jane@acme.io"))
	assert.Equal(t, "", DomainOf("no-domain"))
	assert.Equal(t, "", DomainOf("trailing@"))
}
