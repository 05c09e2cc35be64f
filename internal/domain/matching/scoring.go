package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/phonetics"
)

// Query is the incoming record to match against the index.
type Query struct {
	Family    string    `json:"family"`
	Given     string    `json:"given"`
	BirthDate time.Time `json:"birth_date"`
	Sex       string    `json:"sex"`
	// IdentifierDigests carries the digests of the incoming record's
	// identifiers, when the caller has them. Any overlap with a
	// candidate's current digests is strong evidence.
	IdentifierDigests []string `json:"-"`
}

// CandidateRecord is one indexed patient pulled by the pre-filter.
type CandidateRecord struct {
	PatientID         uuid.UUID
	Family            string
	Given             string
	FamilySoundex     string
	FamilyMetaphone   string
	GivenMetaphone    string
	BirthDate         time.Time
	Sex               string
	IdentifierDigests []string
}

// fuzzyNameFloor is the edit-distance ratio below which family names
// contribute nothing.
const fuzzyNameFloor = 0.8

// Score computes the weighted agreement between the query and one
// candidate. Comparators are independent; each contributes its weight
// once and the best name comparator wins. Returned features name the
// comparators that fired.
func Score(cfg *AlgorithmConfig, q Query, cand CandidateRecord) (decimal.Decimal, map[string]string) {
	features := map[string]string{}
	score := decimal.Zero

	qFamilyMeta := phonetics.Metaphone(q.Family)
	qGivenMeta := phonetics.Metaphone(q.Given)
	qFamilySoundex := phonetics.Soundex(q.Family)

	switch {
	case qFamilyMeta != "" && qFamilyMeta == cand.FamilyMetaphone &&
		qGivenMeta != "" && qGivenMeta == cand.GivenMetaphone:
		score = score.Add(cfg.WeightNameFull)
		features["name"] = "metaphone_full"
	case qFamilyMeta != "" && qFamilyMeta == cand.FamilyMetaphone:
		score = score.Add(cfg.WeightNameFamily)
		features["name"] = "metaphone_family"
	case qFamilySoundex != "" && qFamilySoundex == cand.FamilySoundex:
		score = score.Add(cfg.WeightNamePhonetic)
		features["name"] = "soundex_family"
	default:
		if ratio := phonetics.LevenshteinRatio(q.Family, cand.Family); ratio >= fuzzyNameFloor {
			contribution := cfg.WeightNameFuzzy.Mul(decimal.NewFromFloat(ratio)).Round(4)
			score = score.Add(contribution)
			features["name"] = "fuzzy_family"
		}
	}

	if !q.BirthDate.IsZero() && !cand.BirthDate.IsZero() {
		switch {
		case sameDate(q.BirthDate, cand.BirthDate):
			score = score.Add(cfg.WeightBirthExact)
			features["birth_date"] = "exact"
		case birthYearsAdjacent(q.BirthDate, cand.BirthDate):
			score = score.Add(cfg.WeightBirthNear)
			features["birth_date"] = "near"
		}
	}

	if q.Sex != "" && q.Sex != "unknown" && q.Sex == cand.Sex {
		score = score.Add(cfg.WeightSex)
		features["sex"] = "exact"
	}

	if sharesDigest(q.IdentifierDigests, cand.IdentifierDigests) {
		score = score.Add(cfg.WeightIdentifier)
		features["identifier"] = "exact"
	}

	return score, features
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// birthYearsAdjacent tolerates a birth year off by one, a common
// transcription slip.
func birthYearsAdjacent(a, b time.Time) bool {
	diff := a.Year() - b.Year()
	return diff >= -1 && diff <= 1
}

func sharesDigest(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[d] = true
	}
	for _, d := range b {
		if set[d] {
			return true
		}
	}
	return false
}
