// Package ccow defines the clinical context (CCOW) vocabulary shared by the
// participant application: context keys and dictionaries, status values,
// the Contextor client contract, and the participant callback surface.
package ccow

import (
	"sort"
	"strings"
)

// Key is a context item name in the vendor namespace, e.g. "patient.id.mpi".
// Keys compare case-insensitively; Normalize folds them to lower case.
type Key string

// Known context keys. Items outside this set are still carried through
// dictionaries unchanged.
const (
	KeyUserLogonIDWindows Key = "user.logon.id.windows"
	KeyPatientIDMPI       Key = "patient.id.mpi"
	KeyPatientName        Key = "patient.co.patientname"
	KeyPatientDateOfBirth Key = "patient.co.datetimeofbirth"
	KeyPatientSex         Key = "patient.co.sex"
	KeyPatientPhone       Key = "patient.co.phone"
	KeyPatientMail        Key = "patient.co.mail"
	KeyPatientAddress     Key = "patient.co.address"
	KeyPatientNotes       Key = "patient.co.notes"
)

// Normalize returns the lower-case form of the key.
func (k Key) Normalize() Key {
	return Key(strings.ToLower(string(k)))
}

// Dictionary maps context item names to values.
type Dictionary map[Key]string

// Normalize returns a new dictionary whose keys are all lower case. When two
// source keys differ only in case the lexically greatest spelling wins, so
// the result does not depend on map iteration order.
func Normalize(d Dictionary) Dictionary {
	out := make(Dictionary, len(d))
	keys := make([]Key, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		out[k.Normalize()] = d[k]
	}
	return out
}

// Get returns the value stored under key, ignoring case. Missing items
// yield the empty string.
func (d Dictionary) Get(key Key) string {
	if v, ok := d[key.Normalize()]; ok {
		return v
	}
	if v, ok := d[key]; ok {
		return v
	}
	for k, v := range d {
		if strings.EqualFold(string(k), string(key)) {
			return v
		}
	}
	return ""
}

// Clone returns a shallow copy. A nil dictionary clones to an empty one.
func (d Dictionary) Clone() Dictionary {
	out := make(Dictionary, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the item names in sorted order.
func (d Dictionary) Keys() []Key {
	keys := make([]Key, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SameValue reports whether two context values are equal ignoring case.
func SameValue(a, b string) bool {
	return strings.EqualFold(a, b)
}
