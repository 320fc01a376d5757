// Package errors provides the detector's error taxonomy.
// Every AppError carries a Code that maps onto a gRPC status code and a
// google.rpc.ErrorInfo detail, so logs, the HTTP surface and the health
// service report failures the same way.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Domain is the ErrorInfo domain attached to gRPC statuses.
const Domain = "omnicall.detector"

// Code classifies an AppError.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInternal          Code = "INTERNAL"
	CodeCaptureFailed     Code = "CAPTURE_FAILED"
	CodeInvalidTemplate   Code = "INVALID_TEMPLATE"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeAlreadyRunning    Code = "ALREADY_RUNNING"
	CodeNotRunning        Code = "NOT_RUNNING"
	CodeStopTimeout       Code = "STOP_TIMEOUT"
	CodeDispatchTransport Code = "DISPATCH_TRANSPORT"
	CodeStatsUpdate       Code = "STATS_UPDATE"
	CodeStateSave         Code = "STATE_SAVE"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeRateLimited       Code = "RATE_LIMITED"
)

var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:           codes.Unknown,
	CodeInternal:          codes.Internal,
	CodeCaptureFailed:     codes.Unavailable,
	CodeInvalidTemplate:   codes.InvalidArgument,
	CodeInvalidConfig:     codes.InvalidArgument,
	CodeAlreadyRunning:    codes.FailedPrecondition,
	CodeNotRunning:        codes.FailedPrecondition,
	CodeStopTimeout:       codes.DeadlineExceeded,
	CodeDispatchTransport: codes.Unavailable,
	CodeStatsUpdate:       codes.Internal,
	CodeStateSave:         codes.Internal,
	CodeStoreUnavailable:  codes.Unavailable,
	CodeNotFound:          codes.NotFound,
	CodeRateLimited:       codes.ResourceExhausted,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ErrorInfo renders the error as a google.rpc.ErrorInfo message.
func (e *AppError) ErrorInfo() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			info.Metadata[k] = v
		}
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if withInfo, err := st.WithDetails(e.ErrorInfo()); err == nil {
		return withInfo
	}
	return st
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode reports whether err's chain contains an AppError with the code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeDispatchTransport, CodeCaptureFailed:
		return true
	default:
		return false
	}
}

var _ proto.Message = (*errdetails.ErrorInfo)(nil)
