package obfuscate

import (
	"fmt"
	"maps"
)

// Type is the kind of obfuscation applied to the pixels of an object
type Type int

const (
	None       Type = iota // Leave the pixels alone
	Masking                // Paint the object a solid color
	Pixelation             // Replace every block touched by the object with its average color
	Blurring               // Box blur over the object's own pixels
)

var typeNames = []string{"none", "masking", "pixelation", "blurring"}

// InvalidTypeError is a configuration or programming error, and is never
// recovered from silently.
type InvalidTypeError struct {
	Type Type
}

func (e InvalidTypeError) Error() string {
	return fmt.Sprintf("Invalid obfuscation type %d", int(e.Type))
}

func (t Type) Valid() bool {
	return t >= None && t <= Blurring
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

func ParseType(s string) (Type, error) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return None, fmt.Errorf("Unknown obfuscation type '%v'. Valid values are none, masking, pixelation, blurring", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, InvalidTypeError{t}
	}
	return []byte(typeNames[t]), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Policy maps class ID to obfuscation type
type Policy map[int]Type

// Fill adds None for every class in [0, numClasses) that has no entry.
// This must run before the policy is used, so that lookups never miss.
func (p Policy) Fill(numClasses int) {
	for i := 0; i < numClasses; i++ {
		if _, ok := p[i]; !ok {
			p[i] = None
		}
	}
}

// Validate returns an error if any entry has an invalid type, or refers to
// a class outside [0, numClasses).
func (p Policy) Validate(numClasses int) error {
	for class, t := range p {
		if !t.Valid() {
			return fmt.Errorf("Class %v: %w", class, InvalidTypeError{t})
		}
		if class < 0 || class >= numClasses {
			return fmt.Errorf("Class %v is out of range [0,%v)", class, numClasses)
		}
	}
	return nil
}

// Lookup returns the type for class, which is None if the class is absent
func (p Policy) Lookup(class int) Type {
	return p[class]
}

func (p Policy) Clone() Policy {
	return maps.Clone(p)
}
