package api

import "testing"

func TestNewTodoID(t *testing.T) {
	id := NewTodoID()
	if !ValidateTodoID(id) {
		t.Errorf("NewTodoID() = %q, want valid todo ID", id)
	}
	if other := NewTodoID(); other == id {
		t.Errorf("two calls returned the same ID %q", id)
	}
}

func TestValidateTodoID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "1b4e28ba-2fa1-11d2-883f-0016d3cca427", true},
		{"upper case", "1B4E28BA-2FA1-11D2-883F-0016D3CCA427", true},
		{"braced", "{1b4e28ba-2fa1-11d2-883f-0016d3cca427}", false},
		{"urn", "urn:uuid:1b4e28ba-2fa1-11d2-883f-0016d3cca427", false},
		{"too short", "1b4e28ba-2fa1", false},
		{"numeric", "42", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTodoID(tt.id); got != tt.want {
				t.Errorf("ValidateTodoID(%q) = %v, want %v", tt.id, got, tt.want)
			}
			if got := IsUUID(tt.id); got != tt.want {
				t.Errorf("IsUUID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewNonceValue(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := NewNonceValue()
		if len(v) != nonceLength {
			t.Fatalf("len(%q) = %d, want %d", v, len(v), nonceLength)
		}
		for _, c := range v {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				t.Fatalf("nonce %q contains non-alphanumeric %q", v, c)
			}
		}
		if seen[v] {
			t.Fatalf("duplicate nonce %q", v)
		}
		seen[v] = true
	}
}
