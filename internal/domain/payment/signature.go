package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Field is one entry of a signed message.
type Field struct {
	Key   string
	Value string
}

// Algorithm selects how the message and secret are combined.
type Algorithm int

const (
	// SHA512Suffix hashes message+secret with SHA-512.
	SHA512Suffix Algorithm = iota
	// HMACSHA256 keys an HMAC-SHA256 with the secret.
	HMACSHA256
)

// Encoding selects the textual form of the digest.
type Encoding int

const (
	HexUpper Encoding = iota
	Base64
)

// Scheme is a provider's signing convention.
type Scheme struct {
	Algorithm Algorithm
	Encoding  Encoding
	// KeyValue renders fields as key=value; otherwise only values are joined.
	KeyValue bool
}

// Layout is the ordered list of field keys a provider signs for one operation.
type Layout struct {
	Scheme Scheme
	Keys   []string
}

// Fields picks values in layout order. Missing keys become empty values.
func (l Layout) Fields(values map[string]string) []Field {
	fields := make([]Field, len(l.Keys))
	for i, k := range l.Keys {
		fields[i] = Field{Key: k, Value: values[k]}
	}
	return fields
}

// Sign signs values under the layout.
func (l Layout) Sign(secret string, values map[string]string) (string, error) {
	return Sign(secret, l.Scheme, l.Fields(values))
}

// Message renders fields in the given order, comma separated.
func Message(s Scheme, fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if s.KeyValue {
			parts[i] = f.Key + "=" + f.Value
		} else {
			parts[i] = f.Value
		}
	}
	return strings.Join(parts, ",")
}

// Sign computes the signature of fields. Field order is never changed.
func Sign(secret string, s Scheme, fields []Field) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret: %w", ErrConfiguration)
	}
	msg := Message(s, fields)

	var sum []byte
	switch s.Algorithm {
	case SHA512Suffix:
		h := sha512.Sum512([]byte(msg + secret))
		sum = h[:]
	case HMACSHA256:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(msg))
		sum = mac.Sum(nil)
	default:
		return "", fmt.Errorf("unsupported signature algorithm %d", s.Algorithm)
	}

	switch s.Encoding {
	case HexUpper:
		return strings.ToUpper(hex.EncodeToString(sum)), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("unsupported signature encoding %d", s.Encoding)
	}
}

// Verify recomputes the signature and compares in constant time.
func Verify(secret string, s Scheme, fields []Field, signature string) error {
	want, err := Sign(secret, s, fields)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
