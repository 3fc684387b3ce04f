package ioc

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Type identifies what kind of indicator a watchlist entry tracks.
type Type string

const (
	TypeIP     Type = "ip"
	TypeDomain Type = "domain"
	TypeHash   Type = "hash"
	TypeURL    Type = "url"
)

// AllTypes lists every valid indicator type.
var AllTypes = []Type{TypeIP, TypeDomain, TypeHash, TypeURL}

// IsValid reports whether t is a known indicator type.
func (t Type) IsValid() bool {
	for _, valid := range AllTypes {
		if t == valid {
			return true
		}
	}
	return false
}

var (
	// MD5(32), SHA1(40), SHA256(64), SHA512(128)
	hashPattern   = regexp.MustCompile(`^[a-f0-9]{32}$|^[a-f0-9]{40}$|^[a-f0-9]{64}$|^[a-f0-9]{128}$`)
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
)

// ParseType normalizes and validates a type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown indicator type %q (use ip, domain, hash, or url)", s)
	}
	return t, nil
}

// ValidateValue checks that value is well-formed for the given indicator type.
func ValidateValue(t Type, value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return fmt.Errorf("empty indicator value")
	}

	switch t {
	case TypeIP:
		if net.ParseIP(v) == nil {
			return fmt.Errorf("invalid IP address: %s", v)
		}
	case TypeDomain:
		if !domainPattern.MatchString(strings.ToLower(v)) {
			return fmt.Errorf("invalid domain: %s", v)
		}
	case TypeHash:
		if !hashPattern.MatchString(strings.ToLower(v)) {
			return fmt.Errorf("invalid hash (expected MD5/SHA1/SHA256/SHA512 hex): %s", v)
		}
	case TypeURL:
		parsed, err := url.Parse(v)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid URL: %s", v)
		}
	default:
		return fmt.Errorf("unknown indicator type: %s", t)
	}

	return nil
}

// Normalize returns the canonical form of an indicator value for its type.
// Hashes and domains are lowercased; IPs and URLs are trimmed only.
func Normalize(t Type, value string) string {
	v := strings.TrimSpace(value)
	switch t {
	case TypeDomain, TypeHash:
		return strings.ToLower(v)
	default:
		return v
	}
}
