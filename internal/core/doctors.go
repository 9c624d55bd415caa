package core

import (
	"sort"
	"strings"
)

// DefaultDepartment is assigned to doctors missing from the directory.
const DefaultDepartment = "General"

// DoctorDirectory maps doctor names to their departments.
type DoctorDirectory struct {
	departments map[string]string
	names       map[string]string
}

var defaultDoctors = map[string]string{
	"Dr. Sarah Johnson": "Cardiology",
	"Dr. Michael Chen":  "Neurology",
	"Dr. Emily Davis":   "Pediatrics",
	"Dr. Robert Wilson": "Orthopedics",
	"Dr. Lisa Anderson": "Dermatology",
	"Dr. James Brown":   "General Medicine",
	"Dr. Priya Sharma":  "Gynecology",
	"Dr. Ahmed Khan":    "ENT",
}

// DefaultDoctorDirectory returns the built-in clinic roster.
func DefaultDoctorDirectory() DoctorDirectory {
	return NewDoctorDirectory(defaultDoctors)
}

// NewDoctorDirectory builds a directory from doctor -> department pairs.
func NewDoctorDirectory(entries map[string]string) DoctorDirectory {
	d := DoctorDirectory{
		departments: make(map[string]string, len(entries)),
		names:       make(map[string]string, len(entries)),
	}
	for name, dept := range entries {
		key := doctorKey(name)
		if key == "" {
			continue
		}
		d.departments[key] = strings.TrimSpace(dept)
		d.names[key] = strings.TrimSpace(name)
	}
	return d
}

// doctorKey normalizes case, spacing, and the optional "Dr." title.
func doctorKey(name string) string {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	for _, prefix := range []string{"dr. ", "dr ", "dr."} {
		if strings.HasPrefix(key, prefix) {
			key = strings.TrimSpace(key[len(prefix):])
			break
		}
	}
	return key
}

// Department returns the department of doctor, or DefaultDepartment.
func (d DoctorDirectory) Department(doctor string) string {
	if dept, ok := d.departments[doctorKey(doctor)]; ok && dept != "" {
		return dept
	}
	return DefaultDepartment
}

// Doctors lists the known doctor names in alphabetical order.
func (d DoctorDirectory) Doctors() []string {
	out := make([]string, 0, len(d.names))
	for _, n := range d.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
