package matching

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/domain/demographic"
	"github.com/mpi/mpi/internal/domain/identifier"
	"github.com/mpi/mpi/internal/platform/errs"
)

type subjectLoader struct {
	demo *demographic.Service
	ids  *identifier.Service
}

// NewSubjectLoader builds match queries from a patient's current name,
// demographics and identifier digests. The official name is preferred,
// falling back to the usual name.
func NewSubjectLoader(demo *demographic.Service, ids *identifier.Service) SubjectLoader {
	return &subjectLoader{demo: demo, ids: ids}
}

func (l *subjectLoader) LoadSubject(ctx context.Context, patientID uuid.UUID) (Query, error) {
	var q Query

	name, err := l.demo.CurrentName(ctx, patientID, demographic.NameOfficial)
	if errors.Is(err, errs.ErrNotFound) {
		name, err = l.demo.CurrentName(ctx, patientID, demographic.NameUsual)
	}
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return q, err
	}
	if name != nil {
		q.Family = name.Family
		q.Given = name.Given
	}

	demo, err := l.demo.CurrentDemographics(ctx, patientID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return q, err
	}
	if demo != nil {
		q.BirthDate = demo.BirthDate
		q.Sex = demo.Sex
	}

	idents, err := l.ids.CurrentIdentifiers(ctx, patientID)
	if err != nil {
		return q, err
	}
	for _, ident := range idents {
		q.IdentifierDigests = append(q.IdentifierDigests, ident.ValueDigest)
	}
	return q, nil
}
