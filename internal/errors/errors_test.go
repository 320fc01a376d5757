package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorString(t *testing.T) {
	err := Wrap(stderrors.New("no display"), CodeCaptureFailed, "capture screen").
		WithMetadata("backend", "grim")

	want := "[CAPTURE_FAILED] capture screen map[backend:grim]: no display"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(CodeStoreUnavailable, "postgres down")
	outer := Wrap(inner, CodeStatsUpdate, "increment sends")
	wrapped := fmt.Errorf("tick: %w", outer)

	if !IsCode(wrapped, CodeStatsUpdate) {
		t.Error("outer code not found")
	}
	if !IsCode(wrapped, CodeStoreUnavailable) {
		t.Error("inner code not found")
	}
	if IsCode(wrapped, CodeNotFound) {
		t.Error("unexpected code match")
	}
	if CodeOf(wrapped) != CodeStatsUpdate {
		t.Errorf("CodeOf = %s", CodeOf(wrapped))
	}
	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Error("plain error should be UNKNOWN")
	}
}

func TestErrorsIsUnwraps(t *testing.T) {
	sentinel := stderrors.New("sentinel")
	err := Wrap(sentinel, CodeInternal, "ctx")
	if !stderrors.Is(err, sentinel) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestGRPCStatusRoundTrip(t *testing.T) {
	err := New(CodeAlreadyRunning, "engine busy").WithMetadata("user", "u1")

	st := err.GRPCStatus()
	if st.Code() != codes.FailedPrecondition {
		t.Errorf("code = %v", st.Code())
	}

	var found bool
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			found = info.GetReason() == string(CodeAlreadyRunning) && info.GetDomain() == Domain
		}
	}
	if !found {
		t.Error("ErrorInfo detail missing")
	}

	if got := status.Convert(st.Err()).Message(); got != err.Error() {
		t.Errorf("status message = %q, want %q", got, err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeStoreUnavailable, "")) {
		t.Error("store unavailable should be retryable")
	}
	if IsRetryable(New(CodeInvalidConfig, "")) {
		t.Error("invalid config should not be retryable")
	}
}
