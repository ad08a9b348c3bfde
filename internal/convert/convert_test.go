package convert

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/errs"
)

func TestToFromStruct_LessonRequest(t *testing.T) {
	t.Parallel()

	in := LessonRequest{CourseID: "c1", ModuleID: "m1", LessonID: "l1", Status: "in_progress", Percent: 40, MaxWatchedSecond: 95}
	s, err := ToStruct(in)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	if got := s.GetFields()["maxWatchedSecond"].GetNumberValue(); got != 95 {
		t.Fatalf("maxWatchedSecond on the wire: %v", got)
	}

	var out LessonRequest
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	if out != in {
		t.Fatalf("mismatch: %+v vs %+v", out, in)
	}
}

func TestFromStruct_NilAndBadTypes(t *testing.T) {
	t.Parallel()

	var r CourseRequest
	if err := FromStruct(nil, &r); err != nil || r.CourseID != "" {
		t.Fatalf("nil struct: %+v %v", r, err)
	}

	bad, err := structpb.NewStruct(map[string]any{"courseId": 12.5})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	if err := FromStruct(bad, &r); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want invalid argument, got %v", err)
	}
}

func TestToStruct_RejectsNonObjects(t *testing.T) {
	t.Parallel()

	if _, err := ToStruct([]int{1}); err == nil {
		t.Fatalf("want error for array")
	}
}

func TestToCertificateResponse(t *testing.T) {
	t.Parallel()

	fail := ToCertificateResponse(certificate.Result{
		Error:   errs.CodeProgressIncomplete,
		Status:  http.StatusBadRequest,
		Details: &certificate.ProgressDetails{Required: 4, Completed: 3},
	})
	if fail.Success || fail.Error != "PROGRESS_INCOMPLETE" || fail.IssuedAt != nil || fail.Details.Required != 4 {
		t.Fatalf("failure mapping: %+v", fail)
	}

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	ok := ToCertificateResponse(certificate.Result{Success: true, VerificationCode: "FV-ABCDE", IssuedAt: at, Status: http.StatusCreated})
	if !ok.Success || ok.IssuedAt == nil || !ok.IssuedAt.Equal(at) || ok.Error != "" {
		t.Fatalf("success mapping: %+v", ok)
	}

	s, err := ToStruct(ok)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	if s.GetFields()["issuedAt"].GetStringValue() != "2030-01-02T03:04:05Z" {
		t.Fatalf("issuedAt on the wire: %v", s.GetFields()["issuedAt"])
	}
	if _, has := s.GetFields()["details"]; has {
		t.Fatalf("details must be omitted on success")
	}
}
