// Package patient serves the patient API the context application's
// directory reads: a name list and demographic records.
package patient

import (
	"embed"
	"errors"
	"io/fs"
	"strings"
	"time"
)

var ErrNotFound = errors.New("patient not found")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the patient table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Patient is a demographic record. JSON names match what the directory
// client expects.
type Patient struct {
	ID        string    `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Birthday  string    `db:"birthday" json:"birthday"`
	Sex       string    `db:"sex" json:"sex"`
	Notes     string    `db:"notes" json:"notes"`
	Phone     string    `db:"phone" json:"phone"`
	Mail      string    `db:"mail" json:"mail"`
	Address   string    `db:"address" json:"address"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// DisplayName renders "last, first".
func (p *Patient) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.LastName + ", " + p.FirstName
}

// Validate checks the fields the store requires.
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return errors.New("lastName is required")
	}
	return nil
}

// Summary is a patient list entry.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SummaryOf builds the list entry for p.
func SummaryOf(p *Patient) Summary {
	return Summary{ID: p.ID, Name: p.DisplayName()}
}
