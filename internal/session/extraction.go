package session

// Category classifies an emergency.
type Category string

const (
	CategoryFuel      Category = "fuel"
	CategoryMedical   Category = "medical"
	CategoryShelter   Category = "shelter"
	CategoryFoodWater Category = "food_water"
	CategoryRescue    Category = "rescue"
	CategoryOther     Category = "other"
)

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryFuel, CategoryMedical, CategoryShelter, CategoryFoodWater, CategoryRescue, CategoryOther:
		return true
	}
	return false
}

// Extraction is the structured emergency record accumulated over the call.
// The zero value of a field means "not yet resolved".
type Extraction struct {
	FullName             string
	IdentificationNumber string
	Location             string
	Latitude             float64
	Longitude            float64
	HasCoordinates       bool
	Description          string
	Category             Category
	Severity             int
}

// Merge folds other into e: a field already resolved is only overwritten by
// a later resolved value, never cleared by a later zero value.
func (e *Extraction) Merge(other Extraction) {
	if other.FullName != "" {
		e.FullName = other.FullName
	}
	if other.IdentificationNumber != "" {
		e.IdentificationNumber = other.IdentificationNumber
	}
	if other.Location != "" {
		e.Location = other.Location
	}
	if other.HasCoordinates {
		e.Latitude = other.Latitude
		e.Longitude = other.Longitude
		e.HasCoordinates = true
	}
	if other.Description != "" {
		e.Description = other.Description
	}
	if other.Category != "" {
		e.Category = other.Category
	}
	if other.Severity != 0 {
		e.Severity = other.Severity
	}
}

// Collected reports whether the four fields gathered directly from the
// caller are all present. Category and severity are assessed by the
// dialogue model, so they do not gate dialogue completion.
func (e Extraction) Collected() bool {
	return e.FullName != "" && e.IdentificationNumber != "" &&
		e.Location != "" && e.Description != ""
}

// MissingFields returns the names of required case fields that are still
// unresolved. A case may only be created when this is empty.
func (e Extraction) MissingFields() []string {
	var missing []string
	if e.FullName == "" {
		missing = append(missing, "full_name")
	}
	if e.IdentificationNumber == "" {
		missing = append(missing, "identification_number")
	}
	if e.Location == "" {
		missing = append(missing, "location")
	}
	if e.Description == "" {
		missing = append(missing, "emergency_description")
	}
	if e.Category == "" {
		missing = append(missing, "category")
	}
	if e.Severity < 1 || e.Severity > 5 {
		missing = append(missing, "severity")
	}
	return missing
}

// ToolInvocation is a backend-issued request to create an emergency case.
// It is valid only when the record has no missing fields; the orchestrator
// treats anything less as a protocol error, not a partial case.
type ToolInvocation struct {
	// CallID correlates the tool result back to the backend's function call.
	CallID string

	// Record carries the six required case fields.
	Record Extraction
}
