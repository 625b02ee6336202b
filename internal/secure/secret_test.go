package secure

import (
	"testing"
)

func TestSecret_Use(t *testing.T) {
	input := []byte("changeme")
	s := NewSecret(input)

	for i, b := range input {
		if b != 0 {
			t.Fatalf("input byte %d was not wiped", i)
		}
	}

	var seen string
	if err := s.Use(func(plain []byte) error {
		seen = string(plain)
		return nil
	}); err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if seen != "changeme" {
		t.Errorf("Expected 'changeme', got '%s'", seen)
	}
}

func TestSecret_Empty(t *testing.T) {
	var nilSecret *Secret
	if !nilSecret.Empty() {
		t.Error("nil secret should be empty")
	}
	if !FromString("").Empty() {
		t.Error("secret built from empty string should be empty")
	}

	called := false
	err := nilSecret.Use(func(plain []byte) error {
		called = true
		if plain != nil {
			t.Errorf("expected nil plaintext, got %q", plain)
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("Use on empty secret: called=%v err=%v", called, err)
	}
}

func TestSecret_Destroy(t *testing.T) {
	s := FromString("pin")
	s.Destroy()
	if !s.Empty() {
		t.Error("destroyed secret should be empty")
	}
	if s.String() != "[REDACTED]" {
		t.Errorf("String leaked value: %s", s.String())
	}
}
