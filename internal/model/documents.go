package model

import "time"

// EventType names a domain event.
type EventType string

const (
	EventLessonCompleted     EventType = "LESSON_COMPLETED"
	EventAssessmentSubmitted EventType = "ASSESSMENT_SUBMITTED"
	EventAssessmentGraded    EventType = "ASSESSMENT_GRADED"
	EventCourseEnrolled      EventType = "COURSE_ENROLLED"
	EventCertificateIssued   EventType = "CERTIFICATE_ISSUED"
	EventEnrollmentExpired   EventType = "ENROLLMENT_EXPIRED"
)

// EventContext locates an event inside the course tree.
type EventContext struct {
	CourseID     string `json:"courseId,omitempty"`
	ModuleID     string `json:"moduleId,omitempty"`
	LessonID     string `json:"lessonId,omitempty"`
	AssessmentID string `json:"assessmentId,omitempty"`
}

// DomainEvent is domain_events/{autoId}. The event fields are immutable once
// appended; only the delivery bookkeeping below them changes.
type DomainEvent struct {
	ID          string         `json:"-"`
	Type        EventType      `json:"type"`
	ActorUserID string         `json:"actorUserId"`
	TargetID    string         `json:"targetId"`
	Context     EventContext   `json:"context"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`

	Processed      bool       `json:"processed"`
	DeadLettered   bool       `json:"deadLettered"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	ClaimToken     string     `json:"claimToken,omitempty"`
	ClaimUntil     *time.Time `json:"claimUntil,omitempty"`
	DeadLetteredAt *time.Time `json:"deadLetteredAt,omitempty"`
}

// LessonRef is a denormalized lesson entry for display.
type LessonRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CourseSnapshot records the lesson list a certificate was issued against.
type CourseSnapshot struct {
	CourseID                  string      `json:"courseId"`
	CourseVersionAtCompletion int         `json:"courseVersionAtCompletion"`
	TotalLessonsConsidered    int         `json:"totalLessonsConsidered"`
	Lessons                   []LessonRef `json:"lessons"`
}

// Certificate is certificates/{uid}_{courseId}. Never mutated after creation.
type Certificate struct {
	UserID                    string         `json:"userId"`
	CourseID                  string         `json:"courseId"`
	CourseVersionAtCompletion int            `json:"courseVersionAtCompletion"`
	IssuedAt                  time.Time      `json:"issuedAt"`
	VerificationCode          string         `json:"verificationCode"`
	IntegrityHash             string         `json:"integrityHash"`
	StudentName               string         `json:"studentName"`
	CourseName                string         `json:"courseName"`
	CourseSnapshot            CourseSnapshot `json:"courseSnapshot"`
	IssuedBy                  string         `json:"issuedBy"`
	Status                    string         `json:"status"`
}

// CertificatePublic is certificatePublic/{verificationCode}.
type CertificatePublic struct {
	Code        string    `json:"code"`
	StudentName string    `json:"studentName"`
	CourseName  string    `json:"courseName"`
	IssuedAt    time.Time `json:"issuedAt"`
	IsValid     bool      `json:"isValid"`
}

// AuditActor identifies who performed an audited action.
type AuditActor struct {
	UID  string `json:"uid"`
	Role string `json:"role,omitempty"`
}

// AuditTarget identifies the document an audited action touched.
type AuditTarget struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Summary    string `json:"summary,omitempty"`
}

// AuditEntry is audit_logs/{autoId}.
type AuditEntry struct {
	Actor     AuditActor     `json:"actor"`
	Action    string         `json:"action"`
	Target    AuditTarget    `json:"target"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
