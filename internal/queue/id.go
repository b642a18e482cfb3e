package queue

import (
	"crypto/rand"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxSlugLength    = 30
	idSuffixLength   = 4
	idSuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var nonAlphanumericRuns = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify reduces a business name to the URL-safe stem of a queue id:
// lowercased, non-alphanumeric runs collapsed to single dashes, edge dashes
// trimmed, capped at 30 characters.
func Slugify(businessName string) string {
	slug := strings.ToLower(businessName)
	slug = nonAlphanumericRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return slug
}

// QueueIDProvider generates collision-resistant queue identifiers from a
// business name. Generation is random per call so the service can retry
// on a store-level collision.
type QueueIDProvider interface {
	NewQueueID(businessName string) (string, error)
}

type randomQueueIDProvider struct{}

// NewQueueIDProvider constructs the default slug-plus-suffix provider.
func NewQueueIDProvider() QueueIDProvider {
	return &randomQueueIDProvider{}
}

func (p *randomQueueIDProvider) NewQueueID(businessName string) (string, error) {
	suffix, err := randomSuffix(idSuffixLength)
	if err != nil {
		return "", err
	}
	slug := Slugify(businessName)
	if slug == "" {
		return suffix, nil
	}
	return slug + "-" + suffix, nil
}

func randomSuffix(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	encoded := make([]byte, length)
	for index, value := range raw {
		encoded[index] = idSuffixAlphabet[int(value)%len(idSuffixAlphabet)]
	}
	return string(encoded), nil
}

// IDProvider issues identifiers for customer records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
