package parcels

import "github.com/google/uuid"

// IDProvider issues identifiers for recipients, packages and audit entries.
type IDProvider interface {
	NewID() (string, error)
}

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider issues time-ordered UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(newTimeOrderedID)
}

func newTimeOrderedID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
