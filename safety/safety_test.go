package safety

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	if _, err := SafePath("/spool", "../etc/passwd"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("dotdot: got %v, want ErrPathTraversal", err)
	}
	p, err := SafePath("/spool", "mat_1/abc123")
	if err != nil {
		t.Fatalf("valid path: %v", err)
	}
	if !strings.HasPrefix(p, "/spool/") {
		t.Fatalf("joined path %q not under base", p)
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"mat_1", "doc-2", "a.b", "ABC123"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("ValidateIdentifier(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "a b", "a;b", strings.Repeat("x", 257)} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("ValidateIdentifier(%q): expected error", bad)
		}
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("ftp://example.com/x"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("ftp: got %v, want ErrUnsafeScheme", err)
	}
	if err := ValidateURL("http://127.0.0.1/hook"); !errors.Is(err, ErrSSRF) {
		t.Fatalf("loopback: got %v, want ErrSSRF", err)
	}
	if err := ValidateURL("http://192.168.1.10/hook"); !errors.Is(err, ErrSSRF) {
		t.Fatalf("rfc1918: got %v, want ErrSSRF", err)
	}
	if err := ValidateURL("https://93.184.216.34/hook"); err != nil {
		t.Fatalf("public IP: %v", err)
	}
}

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret(bytes.Repeat([]byte{'x'}, 31)); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("short secret: got %v", err)
	}
	if err := ValidateSecret(bytes.Repeat([]byte{'x'}, 32)); err != nil {
		t.Fatalf("32-byte secret: %v", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("under limit: %q %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader(strings.Repeat("x", 11)), 10); err == nil {
		t.Fatal("over limit: expected error")
	}
}
