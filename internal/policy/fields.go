package policy

import "github.com/spec-kit/maintenance-service/internal/domain"

// Field names a mutable ticket attribute.
type Field string

const (
	FieldTitle            Field = "title"
	FieldDescription      Field = "description"
	FieldCategory         Field = "category"
	FieldPlant            Field = "plant"
	FieldArea             Field = "area"
	FieldEvidenceDelete   Field = "evidence_delete"
	FieldPriority         Field = "priority"
	FieldDueDate          Field = "due_date"
	FieldAssignees        Field = "assignees"
	FieldType             Field = "type"
	FieldClassification   Field = "classification"
	FieldEstimatedMinutes Field = "estimated_minutes"
)

// FieldSet is the set of fields a role may write through an update.
type FieldSet map[Field]struct{}

func newFieldSet(fields ...Field) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

var (
	contentFields = newFieldSet(
		FieldTitle, FieldDescription, FieldCategory, FieldPlant, FieldArea, FieldEvidenceDelete,
	)
	managementFields = newFieldSet(
		FieldPriority, FieldDueDate, FieldAssignees, FieldType, FieldClassification, FieldEstimatedMinutes,
	)
)

// EditableFields returns the field mask for a role. Fields outside the mask
// are ignored when a patch is merged.
func EditableFields(role domain.Role) FieldSet {
	switch {
	case IsAdminTier(role):
		return managementFields
	case IsInternalClient(role):
		return contentFields
	}
	return FieldSet{}
}

// clientClassifications is the subset a client may pick when reporting.
var clientClassifications = map[domain.Classification]bool{
	domain.ClassificationCorrective:     true,
	domain.ClassificationImprovement:    true,
	domain.ClassificationInfrastructure: true,
}

// ClientMayClassify reports whether a client report may carry c.
func ClientMayClassify(c domain.Classification) bool {
	return clientClassifications[c]
}
