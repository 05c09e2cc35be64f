package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/phonetics"
)

func record(family, given string, birth time.Time, sex string, digests ...string) CandidateRecord {
	return CandidateRecord{
		PatientID:         uuid.New(),
		Family:            family,
		Given:             given,
		FamilySoundex:     phonetics.Soundex(family),
		FamilyMetaphone:   phonetics.Metaphone(family),
		GivenMetaphone:    phonetics.Metaphone(given),
		BirthDate:         birth,
		Sex:               sex,
		IdentifierDigests: digests,
	}
}

var birth1980 = time.Date(1980, 5, 20, 0, 0, 0, 0, time.UTC)

func TestScoreExactAgreement(t *testing.T) {
	cfg := DefaultConfig()
	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male",
		IdentifierDigests: []string{"d1"}}
	cand := record("Smith", "Robert", birth1980, "male", "d1")

	score, features := Score(cfg, q, cand)
	if !score.Equal(decimal.NewFromFloat(1.00)) {
		t.Errorf("expected 1.00, got %s", score)
	}
	if features["name"] != "metaphone_full" || features["birth_date"] != "exact" ||
		features["sex"] != "exact" || features["identifier"] != "exact" {
		t.Errorf("unexpected features %v", features)
	}
	if cfg.GradeFor(score) != GradeCertain {
		t.Errorf("expected certain grade")
	}
}

func TestScorePhoneticVariant(t *testing.T) {
	cfg := DefaultConfig()
	// Smyth and Smith share both soundex and metaphone: a likely
	// duplicate but never an automatic one.
	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"}
	cand := record("Smyth", "Robert", birth1980, "male")

	score, features := Score(cfg, q, cand)
	if !score.Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("expected 0.75, got %s", score)
	}
	if features["name"] != "metaphone_full" {
		t.Errorf("expected metaphone_full, got %v", features)
	}
	grade := cfg.GradeFor(score)
	if grade != GradePossible {
		t.Errorf("expected possible grade, got %s", grade)
	}
}

func TestScoreFamilyOnlyAgreement(t *testing.T) {
	cfg := DefaultConfig()
	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"}
	cand := record("Smith", "Greg", birth1980, "male")

	score, features := Score(cfg, q, cand)
	// 0.25 family metaphone + 0.30 birth + 0.10 sex.
	if !score.Equal(decimal.NewFromFloat(0.65)) {
		t.Errorf("expected 0.65, got %s", score)
	}
	if features["name"] != "metaphone_family" {
		t.Errorf("expected metaphone_family, got %v", features)
	}
}

func TestScoreNearBirthDate(t *testing.T) {
	cfg := DefaultConfig()
	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"}
	cand := record("Smith", "Robert", birth1980.AddDate(0, 6, 0), "male")

	score, features := Score(cfg, q, cand)
	// 0.35 name + 0.10 near birth + 0.10 sex.
	if !score.Equal(decimal.NewFromFloat(0.55)) {
		t.Errorf("expected 0.55, got %s", score)
	}
	if features["birth_date"] != "near" {
		t.Errorf("expected near birth date, got %v", features)
	}
}

func TestScoreDisagreement(t *testing.T) {
	cfg := DefaultConfig()
	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"}
	cand := record("Johnson", "Robert", birth1980.AddDate(0, 6, 0), "female")

	score, features := Score(cfg, q, cand)
	// Only the near birth date fires.
	if !score.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("expected 0.10, got %s", score)
	}
	if _, ok := features["name"]; ok {
		t.Errorf("expected no name feature, got %v", features)
	}
}

func TestScoreUnknownSexNeverAgrees(t *testing.T) {
	cfg := DefaultConfig()
	q := Query{Family: "Smith", BirthDate: birth1980, Sex: "unknown"}
	cand := record("Smith", "", birth1980, "unknown")

	_, features := Score(cfg, q, cand)
	if _, ok := features["sex"]; ok {
		t.Error("unknown sex must not count as agreement")
	}
}

func TestCanonicalPairIsOrderIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lo1, hi1 := CanonicalPair(a, b)
	lo2, hi2 := CanonicalPair(b, a)
	if lo1 != lo2 || hi1 != hi2 {
		t.Error("expected identical canonical pair from both orderings")
	}
	if lo1.String() >= hi1.String() {
		t.Error("expected lo < hi")
	}
}
