package queue

import (
	"strings"
	"testing"
)

func TestSlugifyCollapsesNonAlphanumericRuns(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "apostrophe and punctuation", input: "Mario's Pizza!!", expected: "mario-s-pizza"},
		{name: "uppercase", input: "BARBER SHOP", expected: "barber-shop"},
		{name: "leading and trailing symbols", input: "--Cafe Central--", expected: "cafe-central"},
		{name: "multiple spaces", input: "The   Cheese   Shop", expected: "the-cheese-shop"},
		{name: "digits preserved", input: "Route 66 Diner", expected: "route-66-diner"},
		{name: "only symbols", input: "!!!", expected: ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Slugify(test.input); got != test.expected {
				t.Fatalf("Slugify(%q) = %q, want %q", test.input, got, test.expected)
			}
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	long := strings.Repeat("abcde ", 20)
	slug := Slugify(long)
	if len(slug) > maxSlugLength {
		t.Fatalf("expected slug capped at %d characters, got %d", maxSlugLength, len(slug))
	}
}

func TestQueueIDProviderAppendsSuffix(t *testing.T) {
	provider := NewQueueIDProvider()

	id, err := provider.NewQueueID("Mario's Pizza!!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "mario-s-pizza-") {
		t.Fatalf("expected slug prefix, got %s", id)
	}
	suffix := strings.TrimPrefix(id, "mario-s-pizza-")
	if len(suffix) != idSuffixLength {
		t.Fatalf("expected %d character suffix, got %q", idSuffixLength, suffix)
	}
	for _, char := range suffix {
		if !strings.ContainsRune(idSuffixAlphabet, char) {
			t.Fatalf("suffix character %q outside alphabet", char)
		}
	}
}

func TestQueueIDProviderHandlesEmptySlug(t *testing.T) {
	provider := NewQueueIDProvider()

	id, err := provider.NewQueueID("!!!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != idSuffixLength {
		t.Fatalf("expected bare suffix for empty slug, got %q", id)
	}
}

func TestUUIDProviderIssuesDistinctIDs(t *testing.T) {
	provider := NewUUIDProvider()

	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ids, both were %s", first)
	}
}
