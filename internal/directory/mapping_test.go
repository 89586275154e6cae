package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/contextapp/internal/ccow"
)

func samplePatient() Patient {
	return Patient{
		ID:        "1001",
		FirstName: "Jane",
		LastName:  "Doe",
		Birthday:  "19800101",
		Sex:       "f",
		Phone:     "555-0100",
		Mail:      "jane@example.org",
	}
}

func TestMapToContext_DefaultMapping(t *testing.T) {
	got := MapToContext(samplePatient(), DefaultMapping())

	assert.Equal(t, ccow.Dictionary{
		ccow.KeyPatientIDMPI:       "1001",
		ccow.KeyPatientDateOfBirth: "19800101",
		ccow.KeyPatientSex:         "F",
		ccow.KeyPatientName:        "Doe^Jane^^^^",
		ccow.KeyPatientPhone:       "555-0100",
		ccow.KeyPatientMail:        "jane@example.org",
	}, got)
}

func TestMapToContext_OmitsEmptyValues(t *testing.T) {
	got := MapToContext(Patient{ID: "7"}, DefaultMapping())
	assert.Equal(t, ccow.Dictionary{ccow.KeyPatientIDMPI: "7"}, got)
}

func TestHL7Name(t *testing.T) {
	tests := []struct {
		last, first, want string
	}{
		{"Doe", "Jane", "Doe^Jane^^^^"},
		{"Van Dyke", "Dick", "Van^Dyke^Dick^^^^"},
		{"Doe", "", "Doe^^^^^"},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hl7Name(tt.last, tt.first), "%s/%s", tt.last, tt.first)
	}
}

func TestParseMapping(t *testing.T) {
	data := []byte(`
entries:
  - key: Patient.Id.MPI
    field: id
  - key: patient.co.sex
    transform: upper
    field: sex
  - key: patient.co.patientname
    kind: transform
    transform: hl7-name
  - key: patient.co.custom
    field: notes
`)
	m, err := ParseMapping(data)
	require.NoError(t, err)
	require.Len(t, m, 4)
	assert.Equal(t, KindField, m[0].Kind)
	assert.Equal(t, KindTransform, m[1].Kind)

	p := samplePatient()
	p.Notes = "allergic"
	got := MapToContext(p, m)
	assert.Equal(t, "1001", got.Get(ccow.KeyPatientIDMPI))
	assert.Equal(t, "F", got[ccow.KeyPatientSex])
	assert.Equal(t, "allergic", got["patient.co.custom"])
}

func TestParseMapping_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":             `entries: []`,
		"missing key":       "entries:\n  - field: id\n",
		"missing field":     "entries:\n  - key: a.b\n",
		"unknown transform": "entries:\n  - key: a.b\n    transform: reverse\n",
		"upper no field":    "entries:\n  - key: a.b\n    transform: upper\n",
		"duplicate":         "entries:\n  - key: a.b\n    field: id\n  - key: A.B\n    field: sex\n",
		"bad kind":          "entries:\n  - key: a.b\n    kind: script\n    field: id\n",
		"not yaml":          "entries: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMapping([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context-map.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - key: patient.id.mpi\n    field: id\n"), 0o600))

	m, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, Mapping{{Key: ccow.KeyPatientIDMPI, Kind: KindField, Field: FieldID}}, m)

	_, err = LoadMapping(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultMapping_Valid(t *testing.T) {
	assert.NoError(t, DefaultMapping().Validate())
}

func TestPatientRows(t *testing.T) {
	rows := samplePatient().Rows()
	require.Len(t, rows, len(DisplayLabels))
	assert.Equal(t, Row{Label: "Id", Value: "1001"}, rows[0])
	assert.Equal(t, Row{Label: "Dob", Value: "19800101"}, rows[3])
	assert.Equal(t, Row{Label: "Notes", Value: ""}, rows[5])
	assert.Equal(t, "", samplePatient().Value(Field("unknown")))
}

func TestPatientSummary(t *testing.T) {
	assert.Equal(t, Summary{ID: "7", Name: "Doe, Jane"}, Patient{ID: "7", FirstName: "Jane", LastName: "Doe"}.Summary())
	assert.Equal(t, "Doe", Patient{ID: "7", LastName: "Doe"}.Summary().Name)
	assert.Equal(t, "Jane", Patient{ID: "7", FirstName: "Jane"}.Summary().Name)
}
