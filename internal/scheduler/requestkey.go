package scheduler

import "github.com/medikeep/go-adherence/internal/domain/timeslot"

// Request keys are derived, never allocated: any caller that knows
// (prescriptionID, dayOffset, slot) reconstructs the same key, which is what
// makes cancellation possible without a lookup table.
//
// Known limitation: the formula folds the prescription id modulo 100000 and
// gives the day offset only one decimal digit, so prescriptions more than
// 100000 apart, or courses longer than 10 days, can collide. Key spaces for
// dose reminders and course-end reminders are kept disjoint by base.
const (
	doseKeyBase      int64 = 100_000_000
	courseEndKeyBase int64 = 900_000_000
)

// MaxDoseDays is the number of day offsets the dose key formula can represent.
// Cancellation sweeps this full range so that shortening a course never
// strands a registration for a removed offset.
const MaxDoseDays = 10

// DoseRequestKey derives the key for one dose reminder.
func DoseRequestKey(prescriptionID int64, dayOffset int, slot timeslot.Slot) int64 {
	return doseKeyBase + (prescriptionID%100000)*100 + int64(dayOffset)*10 + int64(slot.Code())
}

// CourseEndRequestKey derives the key for a drug's end-of-course reminder.
func CourseEndRequestKey(prescriptionID, drugID int64) int64 {
	return courseEndKeyBase + (prescriptionID%100000)*100 + drugID%100
}
