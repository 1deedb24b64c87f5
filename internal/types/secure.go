package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential (database URL, Redis URL) and refuses to
// print it. fmt and encoding/json both see the redacted placeholder.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw value for handing to a driver.
func (s SecretString) Unmask() string {
	return string(s)
}
