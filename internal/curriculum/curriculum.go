// Package curriculum derives the published course structure and a user's
// progress against it from ground-truth documents.
package curriculum

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
)

// Querier is the read surface needed to load structure and completions.
type Querier interface {
	Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Snapshot, error)
}

// ModuleLessons is a published module with its published lesson ids in order.
type ModuleLessons struct {
	ID        string
	Title     string
	LessonIDs []string
}

// Structure is the currently published shape of a course.
type Structure struct {
	CourseID string
	Modules  []ModuleLessons
	Lessons  []model.LessonRef

	moduleOf map[string]string
}

// TotalLessons is the progress denominator.
func (s *Structure) TotalLessons() int { return len(s.Lessons) }

// ModuleOf returns the current module of a published lesson.
func (s *Structure) ModuleOf(lessonID string) (string, bool) {
	m, ok := s.moduleOf[lessonID]
	return m, ok
}

// LessonIDs returns the published lesson ids in course order.
func (s *Structure) LessonIDs() []string {
	out := make([]string, 0, len(s.Lessons))
	for _, l := range s.Lessons {
		out = append(out, l.ID)
	}
	return out
}

func loadSorted[T any](ctx context.Context, q Querier, coll string, order func(T) int, setID func(*T, string)) ([]T, error) {
	snaps, err := q.Query(ctx, coll, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", coll, err)
	}
	type item struct {
		id string
		v  T
	}
	items := make([]item, 0, len(snaps))
	for _, sn := range snaps {
		var v T
		if err := sn.DataTo(&v); err != nil {
			return nil, err
		}
		setID(&v, sn.Ref.ID)
		items = append(items, item{id: sn.Ref.ID, v: v})
	}
	sort.SliceStable(items, func(i, j int) bool {
		oi, oj := order(items[i].v), order(items[j].v)
		if oi != oj {
			return oi < oj
		}
		return items[i].id < items[j].id
	})
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, it.v)
	}
	return out, nil
}

// LoadPublished reads modules and lessons of courseID, keeping only those not
// explicitly unpublished, ordered by their order field.
func LoadPublished(ctx context.Context, q Querier, courseID string) (*Structure, error) {
	modules, err := loadSorted(ctx, q, model.ModulesCollection(courseID),
		func(m model.Module) int { return m.Order },
		func(m *model.Module, id string) { m.ID = id })
	if err != nil {
		return nil, err
	}

	s := &Structure{CourseID: courseID, moduleOf: make(map[string]string)}
	for _, m := range modules {
		if !m.Published() {
			continue
		}
		lessons, err := loadSorted(ctx, q, model.LessonsCollection(courseID, m.ID),
			func(l model.Lesson) int { return l.Order },
			func(l *model.Lesson, id string) { l.ID = id })
		if err != nil {
			return nil, err
		}
		ml := ModuleLessons{ID: m.ID, Title: m.Title}
		for _, l := range lessons {
			if !l.Published() {
				continue
			}
			if _, dup := s.moduleOf[l.ID]; dup {
				continue
			}
			ml.LessonIDs = append(ml.LessonIDs, l.ID)
			s.Lessons = append(s.Lessons, model.LessonRef{ID: l.ID, Title: l.Title})
			s.moduleOf[l.ID] = m.ID
		}
		s.Modules = append(s.Modules, ml)
	}
	return s, nil
}

// CompletedLessonIDs returns the ids of lessons the user has a completed
// progress record for, regardless of whether they are still published.
func CompletedLessonIDs(ctx context.Context, q Querier, userID, courseID string) (map[string]struct{}, error) {
	snaps, err := q.Query(ctx, model.CollProgress, docstore.Where(
		docstore.Eq("userId", userID),
		docstore.Eq("courseId", courseID),
		docstore.Eq("status", model.ProgressCompleted),
	))
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	out := make(map[string]struct{}, len(snaps))
	for _, sn := range snaps {
		var rec model.ProgressRecord
		if err := sn.DataTo(&rec); err != nil {
			return nil, err
		}
		if rec.LessonID != "" {
			out[rec.LessonID] = struct{}{}
		}
	}
	return out, nil
}

// ReadCompletions reads the progress record of every published lesson by its
// natural key, so that inside a transaction all of them join the read set.
func ReadCompletions(ctx context.Context, g docstore.Getter, s *Structure, userID, courseID string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s.Lessons))
	for _, id := range s.LessonIDs() {
		ref := docstore.Doc(model.CollProgress, model.ProgressKey{UserID: userID, CourseID: courseID, LessonID: id}.ID())
		rec, err := docstore.GetAs[model.ProgressRecord](ctx, g, ref)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load progress %s: %w", id, err)
		}
		if rec.Status == model.ProgressCompleted {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// Counts is the outcome of Tally.
type Counts struct {
	Summary model.ProgressSummary
	// Completed lists published lessons the user completed, in course order.
	Completed []string
}

// Tally intersects completions with the published structure.
func Tally(s *Structure, completed map[string]struct{}) Counts {
	var c Counts
	c.Summary.TotalLessons = s.TotalLessons()
	c.Summary.TotalModules = len(s.Modules)

	for _, m := range s.Modules {
		done := 0
		for _, id := range m.LessonIDs {
			if _, ok := completed[id]; ok {
				done++
				c.Completed = append(c.Completed, id)
			}
		}
		if len(m.LessonIDs) > 0 && done == len(m.LessonIDs) {
			c.Summary.CompletedModulesCount++
		}
	}
	c.Summary.CompletedLessonsCount = len(c.Completed)
	c.Summary.Percent = Percent(c.Summary.CompletedLessonsCount, c.Summary.TotalLessons)
	return c
}

// Percent is round(100*done/total) clamped to [0,100], and 0 when total is 0.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Derive loads the structure and the user's completions and tallies them.
func Derive(ctx context.Context, q Querier, userID, courseID string) (*Structure, Counts, error) {
	s, err := LoadPublished(ctx, q, courseID)
	if err != nil {
		return nil, Counts{}, err
	}
	done, err := CompletedLessonIDs(ctx, q, userID, courseID)
	if err != nil {
		return nil, Counts{}, err
	}
	return s, Tally(s, done), nil
}

// GetLesson loads a lesson under the given module. It returns errs.ErrNotFound
// when the lesson does not exist there.
func GetLesson(ctx context.Context, g docstore.Getter, courseID, moduleID, lessonID string) (model.Lesson, error) {
	if courseID == "" || moduleID == "" || lessonID == "" {
		return model.Lesson{}, errs.ErrInvalidArgument
	}
	l, err := docstore.GetAs[model.Lesson](ctx, g, docstore.Doc(model.LessonsCollection(courseID, moduleID), lessonID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Lesson{}, fmt.Errorf("lesson %s in module %s: %w", lessonID, moduleID, errs.ErrNotFound)
		}
		return model.Lesson{}, err
	}
	l.ID = lessonID
	return l, nil
}
