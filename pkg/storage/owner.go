package storage

import "context"

// ownerKey is a private type for the owner context key.
type ownerKey struct{}

// SetOwner records the authenticated subject performing a storage write.
func SetOwner(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ownerKey{}, subject)
}

// GetOwner extracts the subject from the context.
// Returns an empty string for unauthenticated paths (seeding, CLI).
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
