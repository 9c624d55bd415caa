package domain

import (
	"encoding/json"
	"strings"
)

// Medication is one prescribed line item.
type Medication struct {
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage,omitempty"`
	Frequency    []string `json:"frequency,omitempty"`
	Duration     string   `json:"duration,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Qty          string   `json:"qty,omitempty"`
}

// UnmarshalJSON accepts both the canonical shape and the short
// {name, dose, qty} form, as well as a single-string frequency.
func (m *Medication) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name         string          `json:"name"`
		Dosage       string          `json:"dosage"`
		Dose         string          `json:"dose"`
		Frequency    json.RawMessage `json:"frequency"`
		Duration     string          `json:"duration"`
		Instructions string          `json:"instructions"`
		Qty          json.RawMessage `json:"qty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := Medication{
		Name:         aux.Name,
		Dosage:       aux.Dosage,
		Duration:     aux.Duration,
		Instructions: aux.Instructions,
	}
	if out.Dosage == "" {
		out.Dosage = aux.Dose
	}
	freq, err := decodeFrequency(aux.Frequency)
	if err != nil {
		return err
	}
	out.Frequency = freq
	qty, err := decodeLooseString(aux.Qty)
	if err != nil {
		return err
	}
	out.Qty = qty
	*m = out
	return nil
}

func decodeFrequency(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	return []string{s}, nil
}

func decodeLooseString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// NamedMedications drops blank lines left behind by form widgets.
func NamedMedications(meds []Medication) []Medication {
	out := make([]Medication, 0, len(meds))
	for _, m := range meds {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		out = append(out, cloneMedication(m))
	}
	return out
}

func cloneMedication(m Medication) Medication {
	cp := m
	cp.Frequency = append([]string(nil), m.Frequency...)
	return cp
}

// CloneMedications returns a deep copy of meds.
func CloneMedications(meds []Medication) []Medication {
	if meds == nil {
		return nil
	}
	out := make([]Medication, len(meds))
	for i, m := range meds {
		out[i] = cloneMedication(m)
	}
	return out
}
