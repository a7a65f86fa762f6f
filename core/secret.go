package core

// hintLen is how many trailing characters of an API key Hint reveals.
const hintLen = 4

// Secret holds a Pijaz API key. The key only leaves the process as the
// api_key parameter of an API server command; every formatting and
// serialization path prints a placeholder instead.
//
//	key := NewSecret("k-7f3a9c21d0e4")
//	fmt.Println(key)       // [REDACTED]
//	key.Hint()             // ...d0e4
//	key.Expose()           // k-7f3a9c21d0e4, for the api_key parameter only
type Secret struct {
	value string
}

// NewSecret wraps an API key.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

func (s Secret) String() string {
	return "[REDACTED]"
}

func (s Secret) GoString() string {
	return "core.Secret{[REDACTED]}"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalText keeps the key out of YAML config dumps and zerolog
// Stringer fields.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// Hint identifies which key is configured without revealing it: the last
// four characters behind an ellipsis. Keys too short to spare four
// characters yield the bare placeholder.
func (s Secret) Hint() string {
	if s.value == "" {
		return ""
	}
	r := []rune(s.value)
	if len(r) < 3*hintLen {
		return "[REDACTED]"
	}
	return "..." + string(r[len(r)-hintLen:])
}

// Expose returns the raw key. Only credential injection should call it.
func (s Secret) Expose() string {
	return s.value
}

// IsEmpty reports whether no key was configured.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}
