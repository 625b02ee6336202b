package secrets

import (
	"strings"
	"testing"
)

type mockResolver struct {
	name  string
	value string
}

func (m *mockResolver) Resolve(key string) (string, error) {
	return m.value + ":" + key, nil
}

func (m *mockResolver) Name() string {
	return m.name
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	Register("mock", &mockResolver{name: "Mock", value: "mock-value"})
	defer Unregister("mock")

	result, err := Resolve("mock:test-key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result != "mock-value:test-key" {
		t.Errorf("Expected 'mock-value:test-key', got '%s'", result)
	}
}

func TestRegistry_KeeperNotationKeepsItsSlashes(t *testing.T) {
	Register("keeper", &mockResolver{name: "Keeper", value: "k"})
	defer Unregister("keeper")

	result, err := Resolve("keeper://UID/field/password")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result != "k://UID/field/password" {
		t.Errorf("Expected the key after the first colon, got '%s'", result)
	}
}

func TestRegistry_UnknownPrefix(t *testing.T) {
	_, err := Resolve("unknown:value")
	if err == nil {
		t.Fatal("Expected error for unknown prefix")
	}
	if !strings.Contains(err.Error(), "no resolver registered for prefix") {
		t.Errorf("Expected 'no resolver registered' error, got: %v", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	Register("test", &mockResolver{name: "Mock", value: "value"})
	if _, err := Resolve("test:key"); err != nil {
		t.Fatalf("Resolve failed before unregister: %v", err)
	}
	Unregister("test")
	if _, err := Resolve("test:key"); err == nil {
		t.Fatal("Expected error after unregister")
	}
}

func TestRegistry_DefaultsToEnv(t *testing.T) {
	t.Setenv("KSM_TEST_VALUE", "from-env")

	for _, property := range []string{"KSM_TEST_VALUE", "env:KSM_TEST_VALUE"} {
		result, err := Resolve(property)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", property, err)
		}
		if result != "from-env" {
			t.Errorf("Resolve(%q) = %q, want 'from-env'", property, result)
		}
	}
}

func TestRegistry_ListPrefixesIsSorted(t *testing.T) {
	Register("zz", &mockResolver{name: "Z"})
	Register("aa", &mockResolver{name: "A"})
	defer Unregister("zz")
	defer Unregister("aa")

	prefixes := ListPrefixes()
	if prefixes[0] != "aa" || prefixes[len(prefixes)-1] != "zz" {
		t.Errorf("Expected sorted prefixes, got %v", prefixes)
	}
}
