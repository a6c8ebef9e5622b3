package dto

// LeadRecord is one inbound prospect record from an external source.
type LeadRecord struct {
	Name           string            `json:"name" validate:"required,min=1,max=200"`
	Phone          string            `json:"phone" validate:"required"`
	SecondaryPhone string            `json:"secondary_phone,omitempty"`
	Source         string            `json:"source" validate:"required"`
	CourseID       string            `json:"course_id,omitempty"`
	BranchID       string            `json:"branch_id,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
}

// IngestRequest is the push-ingestion payload.
type IngestRequest struct {
	Records []LeadRecord `json:"records" validate:"required,min=1,dive"`
}

// SkippedRecord explains why a record was dropped from a batch.
type SkippedRecord struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// IngestSummary reports the outcome of one ingestion batch.
type IngestSummary struct {
	Received   int             `json:"received"`
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Skipped    []SkippedRecord `json:"skipped,omitempty"`
}
