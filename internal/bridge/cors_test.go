package bridge

import "testing"

func TestCORSPolicy_Disabled(t *testing.T) {
	p := NewCORSPolicy(nil)
	if !p.Allowed("https://evil.example.com") {
		t.Fatal("disabled policy should allow everything (no enforcement)")
	}
}

func TestCORSPolicy_AllowAll(t *testing.T) {
	p := NewCORSPolicy([]string{""})
	if !p.Allowed("https://anything.example.com") {
		t.Fatal("allow-all policy should allow any origin")
	}
}

func TestCORSPolicy_LiteralMatch(t *testing.T) {
	p := NewCORSPolicy([]string{"https://allowed.example.com"})
	if !p.Allowed("https://allowed.example.com") {
		t.Fatal("expected literal origin to be allowed")
	}
	if p.Allowed("https://other.example.com") {
		t.Fatal("expected non-listed origin to be rejected")
	}
}

func TestCORSPolicy_RegexMatch(t *testing.T) {
	p := NewCORSPolicy([]string{`/example\.com$/`})
	if !p.Allowed("https://a.example.com") {
		t.Fatal("expected regex to match subdomain")
	}
	if p.Allowed("https://example.org") {
		t.Fatal("expected regex to reject non-matching origin")
	}
}

func TestCORSPolicy_NoOriginHeaderAlwaysAllowed(t *testing.T) {
	p := NewCORSPolicy([]string{"https://allowed.example.com"})
	if !p.Allowed("") {
		t.Fatal("expected requests without an Origin header to be allowed")
	}
}
