package model

// MedicationRecord is one structured entry produced by the standardization
// service. Purpose is optional and encoded as null when absent.
type MedicationRecord struct {
	Medication string  `json:"medication"`
	SigCode    string  `json:"sig_code"`
	Dosage     string  `json:"dosage"`
	Frequency  string  `json:"frequency"`
	Quantity   string  `json:"quantity"`
	Refills    string  `json:"refills"`
	Purpose    *string `json:"purpose"`
}

// IsEmpty reports whether every field of the record is blank.
func (m MedicationRecord) IsEmpty() bool {
	return m.Medication == "" &&
		m.SigCode == "" &&
		m.Dosage == "" &&
		m.Frequency == "" &&
		m.Quantity == "" &&
		m.Refills == "" &&
		(m.Purpose == nil || *m.Purpose == "")
}

// PurposeOrEmpty returns the purpose, or "" when it was not provided.
func (m MedicationRecord) PurposeOrEmpty() string {
	if m.Purpose == nil {
		return ""
	}
	return *m.Purpose
}

// StandardizedResult is the canonical standardization payload.
type StandardizedResult struct {
	Medications []MedicationRecord `json:"medications"`
}
