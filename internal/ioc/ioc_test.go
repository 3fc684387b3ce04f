package ioc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"ip", TypeIP, false},
		{" Domain ", TypeDomain, false},
		{"HASH", TypeHash, false},
		{"url", TypeURL, false},
		{"cidr", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateValue(t *testing.T) {
	valid := []struct {
		typ   Type
		value string
	}{
		{TypeIP, "203.0.113.5"},
		{TypeIP, "2001:db8::1"},
		{TypeDomain, "evil.example.com"},
		{TypeHash, "d41d8cd98f00b204e9800998ecf8427e"},                                 // md5
		{TypeHash, "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"}, // sha256, mixed case
		{TypeURL, "https://evil.example.com/payload.bin"},
	}
	for _, tt := range valid {
		assert.NoError(t, ValidateValue(tt.typ, tt.value), "%s %s", tt.typ, tt.value)
	}

	invalid := []struct {
		typ   Type
		value string
	}{
		{TypeIP, "999.1.1.1"},
		{TypeIP, "not-an-ip"},
		{TypeDomain, "localhost"},
		{TypeHash, "zzzz"},
		{TypeHash, "d41d8cd98f00b204"},
		{TypeURL, "/relative/path"},
		{TypeURL, ""},
	}
	for _, tt := range invalid {
		assert.Error(t, ValidateValue(tt.typ, tt.value), "%s %q", tt.typ, tt.value)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "evil.example.com", Normalize(TypeDomain, " EVIL.Example.Com "))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Normalize(TypeHash, "D41D8CD98F00B204E9800998ECF8427E"))
	assert.Equal(t, "https://A.example/Path", Normalize(TypeURL, " https://A.example/Path "))
	assert.Equal(t, "203.0.113.5", Normalize(TypeIP, "203.0.113.5"))
}
