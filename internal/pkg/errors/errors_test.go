package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeProbe, "no frame count")

	if err.Code != CodeProbe {
		t.Errorf("expected code=%s, got %s", CodeProbe, err.Code)
	}
	if err.Message != "no frame count" {
		t.Errorf("expected message='no frame count', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeRendition, "%d renditions failed", 2)
	if err.Message != "2 renditions failed" {
		t.Errorf("expected formatted message, got %s", err.Message)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeValidation, "invalid"),
			contains: []string{"VALIDATION_ERROR", "invalid"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodePublish,
				Message: "upload failed",
				Op:      "processor.publish",
			},
			contains: []string{"processor.publish", "PUBLISH_FAILURE", "upload failed"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeAcquisition,
				Message: "download failed",
				Err:     fmt.Errorf("connection reset"),
			},
			contains: []string{"download failed", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(str, c) {
					t.Errorf("expected error string to contain %q, got: %s", c, str)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("original error")
	wrapped := Wrap(original, "storage.get", "get failed")

	if wrapped.Code != CodeInternal {
		t.Errorf("expected code=%s, got %s", CodeInternal, wrapped.Code)
	}
	if wrapped.Op != "storage.get" {
		t.Errorf("expected op='storage.get', got %s", wrapped.Op)
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "op", "message") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, CodePublish, "op", "message") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestWrapPreservesCodeAndFields(t *testing.T) {
	original := New(CodeProbe, "unknown quality").WithField("path", "/tmp/a.mp4")
	wrapped := Wrap(original, "processor.probe", "probe failed")

	if wrapped.Code != CodeProbe {
		t.Errorf("expected code to be preserved as %s, got %s", CodeProbe, wrapped.Code)
	}
	if wrapped.Fields["path"] != "/tmp/a.mp4" {
		t.Errorf("expected fields to be preserved, got %v", wrapped.Fields)
	}
}

func TestWrapWithCode(t *testing.T) {
	original := New(CodeInternal, "walk failed")
	wrapped := WrapWithCode(original, CodePublish, "processor.publish", "publish failed")

	if wrapped.Code != CodePublish {
		t.Errorf("expected code=%s, got %s", CodePublish, wrapped.Code)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ValidationField", func(t *testing.T) {
		err := ValidationField("videoId", "required")
		if err.Code != CodeValidation {
			t.Errorf("expected code=%s, got %s", CodeValidation, err.Code)
		}
		if err.Fields["field"] != "videoId" {
			t.Errorf("expected field='videoId', got %v", err.Fields["field"])
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		err := Timeout("encode 720p")
		if err.Code != CodeTimeout {
			t.Errorf("expected code=%s, got %s", CodeTimeout, err.Code)
		}
		if err.Fields["operation"] != "encode 720p" {
			t.Errorf("expected operation field, got %v", err.Fields)
		}
	})
}

func TestGetCode(t *testing.T) {
	if GetCode(New(CodeCleanup, "x")) != CodeCleanup {
		t.Error("expected CodeCleanup")
	}
	if GetCode(fmt.Errorf("plain")) != CodeInternal {
		t.Error("expected CodeInternal for a plain error")
	}
	wrapped := fmt.Errorf("outer: %w", Wrap(New(CodeAcquisition, "x"), "op", "y"))
	if GetCode(wrapped) != CodeAcquisition {
		t.Errorf("expected code through fmt wrapping, got %s", GetCode(wrapped))
	}
}

func TestGetFields(t *testing.T) {
	err := New(CodeValidation, "invalid").WithField("field", "videoId")
	if GetFields(err)["field"] != "videoId" {
		t.Errorf("expected field='videoId', got %v", GetFields(err))
	}
	if GetFields(fmt.Errorf("standard")) != nil {
		t.Error("expected nil fields for standard error")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{New(CodeValidation, "x"), false},
		{New(CodeProbe, "x"), false},
		{New(CodeAcquisition, "x"), true},
		{New(CodePublish, "x"), true},
		{New(CodeRendition, "x"), true},
		{New(CodeTimeout, "x"), true},
		{fmt.Errorf("plain"), true},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = string(GetCode(tt.err))
		}
		t.Run(name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStackTrace(t *testing.T) {
	stack := New(CodeInternal, "test error").StackTrace()
	if !strings.Contains(stack, ".go:") {
		t.Errorf("expected stack trace to contain file references, got: %s", stack)
	}
}

func TestErrorIs(t *testing.T) {
	err1 := New(CodeProbe, "error 1")
	err2 := New(CodeProbe, "error 2")
	err3 := New(CodeValidation, "error 3")

	if !errors.Is(err1, err2) {
		t.Error("expected errors with same code to match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("expected errors with different codes to not match")
	}
}

func TestAsAndIs(t *testing.T) {
	original := New(CodePublish, "upload failed")
	wrapped := fmt.Errorf("wrapped: %w", original)

	var target *Error
	if !As(wrapped, &target) {
		t.Fatal("expected As to find Error in chain")
	}
	if target.Code != CodePublish {
		t.Errorf("expected code=%s, got %s", CodePublish, target.Code)
	}
	if !Is(wrapped, original) {
		t.Error("expected Is to match original error")
	}
}
