package access

import "github.com/and161185/lms-core/internal/model"

// IsCourseGloballyBlocked reports whether students cannot see the course at all:
// it is a draft or it is archived.
func IsCourseGloballyBlocked(c model.Course) bool {
	return !c.Published() || c.Status == model.CourseArchived
}

// IsEnrollmentGranting reports whether the enrollment status lets the holder
// consume content.
func IsEnrollmentGranting(s model.EnrollmentStatus) bool {
	return s == model.StatusActive || s == model.StatusCompleted
}
