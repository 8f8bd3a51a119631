package portal

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidUpload   = errors.New("invalid upload")
)

// AuthError reports a failed session resolution. The caller is treated as
// signed out; it is never fatal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("resolve session: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrUnauthenticated }

type UploadStep string

const (
	StepValidate UploadStep = "validate"
	StepStore    UploadStep = "store"
	StepURL      UploadStep = "url"
	StepDocument UploadStep = "document"
	StepActivity UploadStep = "activity"
)

// UploadError names the step an upload failed at. Steps before it have
// already taken effect and are not rolled back.
type UploadError struct {
	Step UploadStep
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed at %s: %v", e.Step, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
