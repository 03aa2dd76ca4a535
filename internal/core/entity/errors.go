package entity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable code of a classified failure. Kinds drive both the
// HTTP status on the interactive path and the retry decision on the batch path.
type ErrorKind string

const (
	KindAuthInvalid                 ErrorKind = "authInvalid"
	KindAuthExpired                 ErrorKind = "authExpired"
	KindAuthForbidden               ErrorKind = "authForbidden"
	KindValidation                  ErrorKind = "validationError"
	KindTemplateNotFound            ErrorKind = "templateNotFound"
	KindTemplateInvalid             ErrorKind = "templateInvalid"
	KindTemplateExpression          ErrorKind = "templateExpression"
	KindCompositeDuplicateNamespace ErrorKind = "compositeDuplicateNamespace"
	KindCompositeInactive           ErrorKind = "compositeInactive"
	KindNoSections                  ErrorKind = "noSections"
	KindUnsupportedObject           ErrorKind = "unsupportedObject"
	KindConversionTimeout           ErrorKind = "conversionTimeout"
	KindConversionFailed            ErrorKind = "conversionFailed"
	KindUploadFailed                ErrorKind = "uploadFailed"
	KindLinkFailed                  ErrorKind = "linkFailed"
	KindRecordStoreConflict         ErrorKind = "recordStoreConflict"
	KindRecordStoreUnavailable      ErrorKind = "recordStoreUnavailable"
	KindInternal                    ErrorKind = "internal"
)

type kindTraits struct {
	retryable bool
	status    int
}

var kindTable = map[ErrorKind]kindTraits{
	KindAuthInvalid:                 {false, http.StatusUnauthorized},
	KindAuthExpired:                 {false, http.StatusUnauthorized},
	KindAuthForbidden:               {false, http.StatusForbidden},
	KindValidation:                  {false, http.StatusBadRequest},
	KindTemplateNotFound:            {false, http.StatusNotFound},
	KindTemplateInvalid:             {false, http.StatusUnprocessableEntity},
	KindTemplateExpression:          {false, http.StatusUnprocessableEntity},
	KindCompositeDuplicateNamespace: {false, http.StatusBadRequest},
	KindCompositeInactive:           {false, http.StatusBadRequest},
	KindNoSections:                  {false, http.StatusBadRequest},
	KindUnsupportedObject:           {false, http.StatusBadRequest},
	KindConversionTimeout:           {true, http.StatusGatewayTimeout},
	KindConversionFailed:            {true, http.StatusBadGateway},
	KindUploadFailed:                {true, http.StatusBadGateway},
	KindLinkFailed:                  {false, http.StatusBadGateway},
	KindRecordStoreConflict:         {false, http.StatusConflict},
	KindRecordStoreUnavailable:      {true, http.StatusServiceUnavailable},
	KindInternal:                    {false, http.StatusInternalServerError},
}

// Error is the domain error carried across component boundaries. The message
// must never contain data-tree values; the cause chain is for logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates a classified error without a cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the batch worker may schedule another attempt.
func IsRetryable(err error) bool {
	return kindTable[KindOf(err)].retryable
}

// HTTPStatus maps err to the interactive response status.
func HTTPStatus(err error) int {
	if t, ok := kindTable[KindOf(err)]; ok {
		return t.status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the client-safe message of err. Unclassified errors
// collapse to a generic message so internals never reach the client.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
