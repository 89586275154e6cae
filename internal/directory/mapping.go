package directory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/contextapp/internal/ccow"
)

// EntryKind tags how a mapping entry produces its value.
type EntryKind string

const (
	// KindField copies a patient field verbatim.
	KindField EntryKind = "field"
	// KindTransform applies a named Transform.
	KindTransform EntryKind = "transform"
)

// Transform names a derived context value.
type Transform string

const (
	// TransformUpper upper-cases Field.
	TransformUpper Transform = "upper"
	// TransformHL7Name builds "last^first^^^^" from the patient name.
	TransformHL7Name Transform = "hl7-name"
)

// Entry maps one context key.
type Entry struct {
	Key       ccow.Key  `yaml:"key"`
	Kind      EntryKind `yaml:"kind"`
	Field     Field     `yaml:"field,omitempty"`
	Transform Transform `yaml:"transform,omitempty"`
}

// Mapping is an ordered list of context key mappings.
type Mapping []Entry

type mappingFile struct {
	Entries Mapping `yaml:"entries"`
}

// DefaultMapping returns the built-in patient to context table.
func DefaultMapping() Mapping {
	return Mapping{
		{Key: ccow.KeyPatientIDMPI, Kind: KindField, Field: FieldID},
		{Key: ccow.KeyPatientDateOfBirth, Kind: KindField, Field: FieldBirthday},
		{Key: ccow.KeyPatientMail, Kind: KindField, Field: FieldMail},
		{Key: ccow.KeyPatientPhone, Kind: KindField, Field: FieldPhone},
		{Key: ccow.KeyPatientAddress, Kind: KindField, Field: FieldAddress},
		{Key: ccow.KeyPatientNotes, Kind: KindField, Field: FieldNotes},
		{Key: ccow.KeyPatientSex, Kind: KindTransform, Field: FieldSex, Transform: TransformUpper},
		{Key: ccow.KeyPatientName, Kind: KindTransform, Transform: TransformHL7Name},
	}
}

// LoadMapping reads a YAML mapping file of the form
//
//	entries:
//	  - key: patient.id.mpi
//	    field: id
//	  - key: patient.co.sex
//	    transform: upper
//	    field: sex
//
// An entry without an explicit kind is a transform when it names one and a
// field copy otherwise.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context map: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and validates YAML mapping data.
func ParseMapping(data []byte) (Mapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse context map: %w", err)
	}
	for i := range f.Entries {
		e := &f.Entries[i]
		if e.Kind == "" {
			e.Kind = KindField
			if e.Transform != "" {
				e.Kind = KindTransform
			}
		}
	}
	if err := f.Entries.Validate(); err != nil {
		return nil, err
	}
	return f.Entries, nil
}

// Validate checks every entry is well formed.
func (m Mapping) Validate() error {
	if len(m) == 0 {
		return errors.New("context map: no entries")
	}
	seen := make(map[ccow.Key]struct{}, len(m))
	for i, e := range m {
		if e.Key == "" {
			return fmt.Errorf("context map entry %d: key is required", i)
		}
		k := e.Key.Normalize()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("context map entry %d: duplicate key %q", i, e.Key)
		}
		seen[k] = struct{}{}

		switch e.Kind {
		case KindField:
			if e.Field == "" {
				return fmt.Errorf("context map entry %q: field is required", e.Key)
			}
		case KindTransform:
			switch e.Transform {
			case TransformHL7Name:
			case TransformUpper:
				if e.Field == "" {
					return fmt.Errorf("context map entry %q: upper needs a field", e.Key)
				}
			default:
				return fmt.Errorf("context map entry %q: unknown transform %q", e.Key, e.Transform)
			}
		default:
			return fmt.Errorf("context map entry %q: unknown kind %q", e.Key, e.Kind)
		}
	}
	return nil
}

// MapToContext builds the context items for p. Entries whose value comes
// out empty are omitted.
func MapToContext(p Patient, m Mapping) ccow.Dictionary {
	out := ccow.Dictionary{}
	for _, e := range m {
		if v := e.value(p); v != "" {
			out[e.Key.Normalize()] = v
		}
	}
	return out
}

func (e Entry) value(p Patient) string {
	switch e.Kind {
	case KindField:
		return p.Value(e.Field)
	case KindTransform:
		switch e.Transform {
		case TransformUpper:
			return strings.ToUpper(p.Value(e.Field))
		case TransformHL7Name:
			return hl7Name(p.LastName, p.FirstName)
		}
	}
	return ""
}

// hl7Name renders an XPN-style name: family^given followed by empty
// middle, suffix, prefix and degree components. Spaces inside names also
// become separators.
func hl7Name(last, first string) string {
	if last == "" && first == "" {
		return ""
	}
	return strings.ReplaceAll(strings.Join([]string{last, first, "   "}, " "), " ", "^")
}
