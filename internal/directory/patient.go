// Package directory looks up patient demographics from the patient API and
// maps them onto clinical context items.
package directory

// Field names a patient record attribute as it appears in the patient API.
type Field string

const (
	FieldID        Field = "id"
	FieldFirstName Field = "firstName"
	FieldLastName  Field = "lastName"
	FieldBirthday  Field = "birthday"
	FieldSex       Field = "sex"
	FieldNotes     Field = "notes"
	FieldPhone     Field = "phone"
	FieldMail      Field = "mail"
	FieldAddress   Field = "address"
)

// Patient is a demographic record returned by GET /api/patient/{id}.
type Patient struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Birthday  string `json:"birthday"`
	Sex       string `json:"sex"`
	Notes     string `json:"notes"`
	Phone     string `json:"phone"`
	Mail      string `json:"mail"`
	Address   string `json:"address"`
}

// Value returns the attribute named by f, or "" for unknown fields.
func (p Patient) Value(f Field) string {
	switch f {
	case FieldID:
		return p.ID
	case FieldFirstName:
		return p.FirstName
	case FieldLastName:
		return p.LastName
	case FieldBirthday:
		return p.Birthday
	case FieldSex:
		return p.Sex
	case FieldNotes:
		return p.Notes
	case FieldPhone:
		return p.Phone
	case FieldMail:
		return p.Mail
	case FieldAddress:
		return p.Address
	}
	return ""
}

// Label pairs a field with its display caption.
type Label struct {
	Field Field
	Text  string
}

// DisplayLabels lists the fields shown for a patient, in display order.
var DisplayLabels = []Label{
	{FieldID, "Id"},
	{FieldFirstName, "First Name"},
	{FieldLastName, "Last Name"},
	{FieldBirthday, "Dob"},
	{FieldSex, "Gender"},
	{FieldNotes, "Notes"},
	{FieldPhone, "Tel"},
	{FieldMail, "Mail"},
	{FieldAddress, "Address"},
}

// Row is one label/value line of the patient table.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Rows renders p as display rows. Missing values render as "".
func (p Patient) Rows() []Row {
	rows := make([]Row, 0, len(DisplayLabels))
	for _, l := range DisplayLabels {
		rows = append(rows, Row{Label: l.Text, Value: p.Value(l.Field)})
	}
	return rows
}

// Summary is an entry of the patient list: id and "last, first" name.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Summary returns the list entry for p.
func (p Patient) Summary() Summary {
	name := p.LastName
	if p.FirstName != "" {
		if name != "" {
			name += ", "
		}
		name += p.FirstName
	}
	return Summary{ID: p.ID, Name: name}
}
