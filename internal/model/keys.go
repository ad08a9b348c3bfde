package model

// Collection names.
const (
	CollEnrollments       = "enrollments"
	CollProgress          = "progress"
	CollCertificates      = "certificates"
	CollCertificatePublic = "certificatePublic"
	CollDomainEvents      = "domain_events"
	CollCourses           = "courses"
	CollUsers             = "users"
	CollAuditLogs         = "audit_logs"
)

// ModulesCollection is the sub-collection path of a course's modules.
func ModulesCollection(courseID string) string {
	return CollCourses + "/" + courseID + "/modules"
}

// LessonsCollection is the sub-collection path of a module's lessons.
func LessonsCollection(courseID, moduleID string) string {
	return ModulesCollection(courseID) + "/" + moduleID + "/lessons"
}

// EnrollmentKey is the natural key of an enrollment.
type EnrollmentKey struct {
	UserID   string
	CourseID string
}

// ID renders {uid}_{courseId}.
func (k EnrollmentKey) ID() string { return k.UserID + "_" + k.CourseID }

// ProgressKey is the natural key of a lesson progress record.
type ProgressKey struct {
	UserID   string
	CourseID string
	LessonID string
}

// ID renders {uid}_{courseId}_{lessonId}.
func (k ProgressKey) ID() string { return k.UserID + "_" + k.CourseID + "_" + k.LessonID }

// CertificateKey is the natural (idempotency) key of a certificate: one per
// (user, course). The content version is a field on the certificate, not part of the key.
type CertificateKey struct {
	UserID   string
	CourseID string
}

// ID renders {uid}_{courseId}.
func (k CertificateKey) ID() string { return k.UserID + "_" + k.CourseID }
