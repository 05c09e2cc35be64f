package demographic

import (
	"time"

	"github.com/mpi/mpi/internal/platform/phonetics"
	"github.com/mpi/mpi/internal/platform/temporal"
)

// NameType distinguishes independent name chains per patient. A patient
// versions their official name and their maiden name separately.
type NameType string

const (
	NameOfficial NameType = "official"
	NameUsual    NameType = "usual"
	NameMaiden   NameType = "maiden"
	NameAlias    NameType = "alias"
)

// KnownNameType reports whether t is one of the supported name types.
func KnownNameType(t NameType) bool {
	switch t {
	case NameOfficial, NameUsual, NameMaiden, NameAlias:
		return true
	}
	return false
}

// PatientName is one time-sliced version of a patient's name. The
// phonetic columns are derived at write time so candidate retrieval is
// an index lookup, never a per-row recomputation.
type PatientName struct {
	temporal.VersionMeta
	NameType NameType `db:"name_type" json:"name_type"`
	Family   string   `db:"family" json:"family"`
	Given    string   `db:"given" json:"given"`
	Middle   string   `db:"middle" json:"middle,omitempty"`
	Prefix   string   `db:"prefix" json:"prefix,omitempty"`
	Suffix   string   `db:"suffix" json:"suffix,omitempty"`

	FamilySoundex   string `db:"family_soundex" json:"-"`
	FamilyMetaphone string `db:"family_metaphone" json:"-"`
	GivenMetaphone  string `db:"given_metaphone" json:"-"`
}

func (n *PatientName) Meta() *temporal.VersionMeta { return &n.VersionMeta }
func (n *PatientName) SubKey() string              { return string(n.NameType) }

// ComputePhonetics refreshes the derived phonetic columns.
func (n *PatientName) ComputePhonetics() {
	n.FamilySoundex = phonetics.Soundex(n.Family)
	n.FamilyMetaphone = phonetics.Metaphone(n.Family)
	n.GivenMetaphone = phonetics.Metaphone(n.Given)
}

// Sex values follow administrative gender coding.
const (
	SexMale    = "male"
	SexFemale  = "female"
	SexOther   = "other"
	SexUnknown = "unknown"
)

// KnownSex reports whether s is a supported administrative sex code.
func KnownSex(s string) bool {
	switch s {
	case SexMale, SexFemale, SexOther, SexUnknown:
		return true
	}
	return false
}

// Demographics is one time-sliced version of a patient's core
// demographics. One chain per patient.
type Demographics struct {
	temporal.VersionMeta
	BirthDate  time.Time  `db:"birth_date" json:"birth_date"`
	Sex        string     `db:"sex" json:"sex"`
	BirthPlace string     `db:"birth_place" json:"birth_place,omitempty"`
	DeceasedAt *time.Time `db:"deceased_at" json:"deceased_at,omitempty"`
}

func (d *Demographics) Meta() *temporal.VersionMeta { return &d.VersionMeta }
func (d *Demographics) SubKey() string              { return "" }
