package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/convert"
	grpcserver "github.com/and161185/lms-core/internal/server/grpc"
)

var errUnknownCommand = errors.New("unknown command")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseCommand maps an authenticated subcommand to its method and request.
func parseCommand(cmd string, args []string) (string, any, error) {
	switch cmd {
	case "access":
		req, err := parseCourse(cmd, args, false)
		return grpcserver.MethodAssertAccess, req, err
	case "complete":
		req, err := parseLesson(cmd, args, false)
		return grpcserver.MethodMarkLessonCompleted, req, err
	case "progress":
		req, err := parseLesson(cmd, args, true)
		return grpcserver.MethodUpdateLessonProgress, req, err
	case "recalc":
		req, err := parseCourse(cmd, args, true)
		return grpcserver.MethodRecalculateProgress, req, err
	case "issue":
		req, err := parseCourse(cmd, args, true)
		return grpcserver.MethodIssueCertificate, req, err
	case "enroll":
		req, err := parseActivate(args)
		return grpcserver.MethodActivateEnrollment, req, err
	case "expire":
		req, err := parseExpire(args)
		return grpcserver.MethodExpireEnrollment, req, err
	}
	return "", nil, fmt.Errorf("%w: %s", errUnknownCommand, cmd)
}

func parseCourse(cmd string, args []string, withUser bool) (convert.CourseRequest, error) {
	var req convert.CourseRequest
	fs := newFlagSet(cmd)
	fs.StringVar(&req.CourseID, "course", "", "course id")
	if withUser {
		fs.StringVar(&req.UserID, "user", "", "act for another user (admin)")
	}
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if req.CourseID == "" {
		return req, errors.New("need -course")
	}
	return req, nil
}

func parseLesson(cmd string, args []string, partial bool) (convert.LessonRequest, error) {
	var req convert.LessonRequest
	fs := newFlagSet(cmd)
	fs.StringVar(&req.CourseID, "course", "", "course id")
	fs.StringVar(&req.ModuleID, "module", "", "module id")
	fs.StringVar(&req.LessonID, "lesson", "", "lesson id")
	if partial {
		fs.IntVar(&req.Percent, "percent", 0, "percent watched 0..100")
		fs.IntVar(&req.MaxWatchedSecond, "watched", 0, "furthest second watched")
	}
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if req.CourseID == "" || req.ModuleID == "" || req.LessonID == "" {
		return req, errors.New("need -course -module -lesson")
	}
	if partial {
		if req.Percent < 0 || req.Percent > 100 {
			return req, errors.New("-percent must be within 0..100")
		}
		req.Status = "in_progress"
	}
	return req, nil
}

var paymentMethods = []string{"stripe", "subscription", "free", "admin"}

func parseActivate(args []string) (convert.ActivateRequest, error) {
	var req convert.ActivateRequest
	var until string
	fs := newFlagSet("enroll")
	fs.StringVar(&req.UserID, "user", "", "user id")
	fs.StringVar(&req.CourseID, "course", "", "course id")
	fs.StringVar(&req.SourceRef, "ref", "", "payment or grant reference")
	fs.StringVar(&req.PaymentMethod, "method", "admin", "payment method")
	fs.StringVar(&until, "until", "", "access end (RFC3339), subscriptions only")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if req.UserID == "" || req.CourseID == "" {
		return req, errors.New("need -user and -course")
	}
	if !validMethod(req.PaymentMethod) {
		return req, fmt.Errorf("-method must be one of %s", strings.Join(paymentMethods, ", "))
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return req, fmt.Errorf("-until: %w", err)
		}
		req.AccessUntil = &t
	}
	if req.PaymentMethod == "subscription" && req.AccessUntil == nil {
		return req, errors.New("subscription grants need -until")
	}
	autoRef(&req.SourceRef)
	return req, nil
}

func validMethod(m string) bool {
	for _, v := range paymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// autoRef gives manual grants a unique reference so repeats are distinguishable.
func autoRef(ref *string) {
	if *ref == "" {
		v, _ := u.NewV4()
		*ref = "cli_" + v.String()
	}
}

func parseExpire(args []string) (convert.ExpireRequest, error) {
	var req convert.ExpireRequest
	fs := newFlagSet("expire")
	fs.StringVar(&req.UserID, "user", "", "user id")
	fs.StringVar(&req.CourseID, "course", "", "course id")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if req.UserID == "" || req.CourseID == "" {
		return req, errors.New("need -user and -course")
	}
	return req, nil
}

func parseVerify(args []string) (convert.VerifyRequest, error) {
	var req convert.VerifyRequest
	fs := newFlagSet("verify")
	fs.StringVar(&req.Code, "code", "", "verification code")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	req.Code = certificate.NormalizeCode(req.Code)
	if req.Code == "" {
		return req, errors.New("need -code")
	}
	return req, nil
}
