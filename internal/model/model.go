// Package model defines domain documents used by services and the document store.
package model

import "time"

// EnrollmentStatus is the access state of an enrollment.
type EnrollmentStatus string

const (
	StatusPendingApproval EnrollmentStatus = "pending_approval"
	StatusPending         EnrollmentStatus = "pending" // legacy spelling of pending_approval
	StatusActive          EnrollmentStatus = "active"
	StatusCompleted       EnrollmentStatus = "completed"
	StatusCanceled        EnrollmentStatus = "canceled"
	StatusRefunded        EnrollmentStatus = "refunded"
	StatusExpired         EnrollmentStatus = "expired"
)

// Payment methods known to the access gate.
const (
	PaymentSubscription = "subscription"
	PaymentStripe       = "stripe"
	PaymentFree         = "free"
	PaymentAdmin        = "admin"
	PaymentLegacy       = "legacy"
)

// Course statuses.
const (
	CourseOpen     = "open"
	CourseClosed   = "closed" // no new enrollment, existing students keep access
	CourseArchived = "archived"
)

// RoleAdmin is the user role that bypasses enrollment checks.
const RoleAdmin = "admin"

// ProgressSummary is the denormalized, always-derived progress on an enrollment.
type ProgressSummary struct {
	CompletedLessonsCount int `json:"completedLessonsCount"`
	TotalLessons          int `json:"totalLessons"`
	CompletedModulesCount int `json:"completedModulesCount"`
	TotalModules          int `json:"totalModules"`
	Percent               int `json:"percent"`
}

// Enrollment is one (user, course) pair stored at enrollments/{uid}_{courseId}.
type Enrollment struct {
	UserID                    string           `json:"userId"`
	CourseID                  string           `json:"courseId"`
	Status                    EnrollmentStatus `json:"status"`
	PaymentMethod             string           `json:"paymentMethod,omitempty"`
	SourceRef                 string           `json:"sourceRef,omitempty"`
	CourseVersionAtEnrollment int              `json:"courseVersionAtEnrollment,omitempty"`
	AccessUntil               *time.Time       `json:"accessUntil,omitempty"`
	ProgressSummary           ProgressSummary  `json:"progressSummary"`
	CompletedAt               *time.Time       `json:"completedAt,omitempty"` // set once, first time 100% was reached
	CertificateID             string           `json:"certificateId,omitempty"`
	LastAccessedAt            *time.Time       `json:"lastAccessedAt,omitempty"`
	CreatedAt                 *time.Time       `json:"createdAt,omitempty"`
	UpdatedAt                 *time.Time       `json:"updatedAt,omitempty"`
}

// Course is the root course document at courses/{courseId}.
type Course struct {
	ID              string `json:"-"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	IsPublished     *bool  `json:"isPublished,omitempty"`
	ContentRevision int    `json:"contentRevision,omitempty"`
}

// Published reports whether the course is not explicitly unpublished.
func (c Course) Published() bool { return c.IsPublished == nil || *c.IsPublished }

// Module is courses/{courseId}/modules/{moduleId}.
type Module struct {
	ID          string `json:"-"`
	Title       string `json:"title"`
	Order       int    `json:"order"`
	IsPublished *bool  `json:"isPublished,omitempty"`
}

// Published reports isPublished != false.
func (m Module) Published() bool { return m.IsPublished == nil || *m.IsPublished }

// Lesson is courses/{courseId}/modules/{moduleId}/lessons/{lessonId}.
type Lesson struct {
	ID          string `json:"-"`
	Title       string `json:"title"`
	Order       int    `json:"order"`
	IsPublished *bool  `json:"isPublished,omitempty"`
}

// Published reports isPublished != false.
func (l Lesson) Published() bool { return l.IsPublished == nil || *l.IsPublished }

// UserProfile is users/{uid}.
type UserProfile struct {
	Role              string   `json:"role,omitempty"`
	DisplayName       string   `json:"displayName,omitempty"`
	Email             string   `json:"email,omitempty"`
	EnrolledCourseIDs []string `json:"enrolledCourseIds,omitempty"` // legacy access list
}

// IsAdmin reports whether the profile carries the administrator role.
func (u UserProfile) IsAdmin() bool { return u.Role == RoleAdmin }

// HasLegacyEnrollment reports whether courseID is in the legacy enrolledCourseIds array.
func (u UserProfile) HasLegacyEnrollment(courseID string) bool {
	for _, id := range u.EnrolledCourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// Lesson progress statuses. Only ProgressCompleted counts toward completion.
const (
	ProgressCompleted  = "completed"
	ProgressInProgress = "in_progress"
)

// ProgressRecord is progress/{uid}_{courseId}_{lessonId}.
type ProgressRecord struct {
	UserID           string     `json:"userId"`
	CourseID         string     `json:"courseId"`
	ModuleID         string     `json:"moduleId,omitempty"`
	LessonID         string     `json:"lessonId"`
	Status           string     `json:"status"`
	Percent          int        `json:"percent,omitempty"`
	MaxWatchedSecond int        `json:"maxWatchedSecond,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

// AccessContext is the capability returned by a successful access check.
type AccessContext struct {
	UserID          string     `json:"userId"`
	CourseID        string     `json:"courseId"`
	EnrollmentID    string     `json:"enrollmentId"`
	PaymentMethod   string     `json:"paymentMethod"`
	CourseVersion   int        `json:"courseVersion,omitempty"`
	AccessUntil     *time.Time `json:"accessUntil,omitempty"`
	IsAdminOverride bool       `json:"isAdminOverride,omitempty"`
	IsLegacy        bool       `json:"isLegacy,omitempty"`
}
