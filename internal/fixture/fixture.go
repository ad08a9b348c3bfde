// Package fixture seeds course trees, users and enrollments into a store.
// It is used by tests and by the server's -seed dev flag.
package fixture

import (
	"context"
	"strconv"
	"time"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/model"
)

// Lesson describes a seeded lesson.
type Lesson struct {
	ID          string
	Title       string
	Unpublished bool
}

// Module describes a seeded module; lessons get order by position.
type Module struct {
	ID          string
	Title       string
	Unpublished bool
	Lessons     []Lesson
}

// Course describes a seeded course.
type Course struct {
	ID              string
	Title           string
	Status          string
	Unpublished     bool
	ContentRevision int
	Modules         []Module
}

func published(unpublished bool) *bool {
	v := !unpublished
	return &v
}

// SeedCourse writes the course document and its module/lesson sub-collections.
func SeedCourse(ctx context.Context, s docstore.Store, c Course) error {
	status := c.Status
	if status == "" {
		status = model.CourseOpen
	}
	title := c.Title
	if title == "" {
		title = c.ID
	}
	err := s.Set(ctx, docstore.Doc(model.CollCourses, c.ID), model.Course{
		Title:           title,
		Status:          status,
		IsPublished:     published(c.Unpublished),
		ContentRevision: c.ContentRevision,
	})
	if err != nil {
		return err
	}
	for mi, m := range c.Modules {
		err := s.Set(ctx, docstore.Doc(model.ModulesCollection(c.ID), m.ID), model.Module{
			Title: m.Title, Order: mi + 1, IsPublished: published(m.Unpublished),
		})
		if err != nil {
			return err
		}
		for li, l := range m.Lessons {
			if err := SetLesson(ctx, s, c.ID, m.ID, l, li+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetLesson writes (or rewrites) one lesson document.
func SetLesson(ctx context.Context, s docstore.Store, courseID, moduleID string, l Lesson, order int) error {
	title := l.Title
	if title == "" {
		title = l.ID
	}
	return s.Set(ctx, docstore.Doc(model.LessonsCollection(courseID, moduleID), l.ID), model.Lesson{
		Title: title, Order: order, IsPublished: published(l.Unpublished),
	})
}

// SeedUser writes users/{uid}.
func SeedUser(ctx context.Context, s docstore.Store, uid string, p model.UserProfile) error {
	return s.Set(ctx, docstore.Doc(model.CollUsers, uid), p)
}

// SeedEnrollment writes an enrollment under its natural key.
func SeedEnrollment(ctx context.Context, s docstore.Store, e model.Enrollment) error {
	if e.CreatedAt == nil {
		now := time.Now().UTC()
		e.CreatedAt = &now
	}
	key := model.EnrollmentKey{UserID: e.UserID, CourseID: e.CourseID}
	return s.Set(ctx, docstore.Doc(model.CollEnrollments, key.ID()), e)
}

// Simple returns a one-module course with n published lessons l1..ln.
func Simple(courseID string, n int) Course {
	m := Module{ID: "m1", Title: "Module 1"}
	for i := 1; i <= n; i++ {
		id := "l" + strconv.Itoa(i)
		m.Lessons = append(m.Lessons, Lesson{ID: id, Title: "Lesson " + strconv.Itoa(i)})
	}
	return Course{ID: courseID, Title: "Course " + courseID, ContentRevision: 1, Modules: []Module{m}}
}

// CompleteLesson writes a completed progress record directly.
func CompleteLesson(ctx context.Context, s docstore.Store, uid, courseID, moduleID, lessonID string) error {
	now := time.Now().UTC()
	key := model.ProgressKey{UserID: uid, CourseID: courseID, LessonID: lessonID}
	return s.Set(ctx, docstore.Doc(model.CollProgress, key.ID()), model.ProgressRecord{
		UserID:      uid,
		CourseID:    courseID,
		ModuleID:    moduleID,
		LessonID:    lessonID,
		Status:      model.ProgressCompleted,
		Percent:     100,
		CompletedAt: &now,
		UpdatedAt:   &now,
	})
}
