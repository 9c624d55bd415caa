package domain

// Action indicates the type of modification performed.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// SaveOrigin names the form that triggered a save. Consistency rules key
// their behavior off it.
type SaveOrigin string

// Save origins.
const (
	OriginRegistration SaveOrigin = "registration"
	OriginPatientEdit  SaveOrigin = "patient_edit"
	OriginVisitRecord  SaveOrigin = "visit_record"
	OriginVisit        SaveOrigin = "visit"
	OriginVisitDetail  SaveOrigin = "visit_detail"
	OriginAppointment  SaveOrigin = "appointment"
	OriginPrescription SaveOrigin = "prescription"
	OriginRule         SaveOrigin = "rule"
	OriginSync         SaveOrigin = "sync"
)

// Change describes one entity mutation captured during a save.
type Change struct {
	Collection Collection
	Action     Action
	EntityID   string
	Before     any
	After      any
	Origin     SaveOrigin
	// Encounter carries the clinical form data saved alongside the entity,
	// when the form had any.
	Encounter *Visit
	// Rule is set on changes produced by a consistency rule.
	Rule string
}

// Derived reports whether the change was produced by a rule.
func (c Change) Derived() bool { return c.Rule != "" }

// Topic identifies a same-tab notification.
type Topic string

// Notification topics.
const (
	TopicPatientAdded        Topic = "patientAdded"
	TopicPatientUpdated      Topic = "patientUpdated"
	TopicPatientDeleted      Topic = "patientDeleted"
	TopicAppointmentAdded    Topic = "appointmentAdded"
	TopicAppointmentUpdated  Topic = "appointmentUpdated"
	TopicAppointmentDeleted  Topic = "appointmentDeleted"
	TopicPrescriptionAdded   Topic = "prescriptionAdded"
	TopicPrescriptionUpdated Topic = "prescriptionUpdated"
	TopicPrescriptionDeleted Topic = "prescriptionDeleted"
	TopicVisitAdded          Topic = "visitAdded"
	TopicVisitUpdated        Topic = "visitUpdated"
	TopicVisitDeleted        Topic = "visitDeleted"
	// TopicCollectionChanged signals that another client rewrote a collection.
	TopicCollectionChanged Topic = "collectionChanged"
)

var topicTable = map[Collection]map[Action]Topic{
	CollectionPatients: {
		ActionCreate: TopicPatientAdded,
		ActionUpdate: TopicPatientUpdated,
		ActionDelete: TopicPatientDeleted,
	},
	CollectionAppointments: {
		ActionCreate: TopicAppointmentAdded,
		ActionUpdate: TopicAppointmentUpdated,
		ActionDelete: TopicAppointmentDeleted,
	},
	CollectionPrescriptions: {
		ActionCreate: TopicPrescriptionAdded,
		ActionUpdate: TopicPrescriptionUpdated,
		ActionDelete: TopicPrescriptionDeleted,
	},
	CollectionVisits: {
		ActionCreate: TopicVisitAdded,
		ActionUpdate: TopicVisitUpdated,
		ActionDelete: TopicVisitDeleted,
	},
}

// TopicFor maps a collection mutation to its notification topic.
func TopicFor(c Collection, a Action) (Topic, bool) {
	t, ok := topicTable[c][a]
	return t, ok
}

// Topic returns the notification topic for the change.
func (c Change) Topic() Topic {
	t, ok := TopicFor(c.Collection, c.Action)
	if !ok {
		return TopicCollectionChanged
	}
	return t
}
