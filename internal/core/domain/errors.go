package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrMalformedJob      = errors.New("malformed job")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid job input")
)

// Client-visible failure messages.
const (
	MsgStartAfterEnd         = "Start page number can't be greater than end page number."
	MsgEndExceedsPages       = "End page number exceeds pages of document."
	MsgStartBelowFirst       = "Start page number must be at least 1."
	MsgSourceNotFound        = "Source file not found."
	MsgOpenDocument          = "Could not open document."
	MsgCreateFromImage       = "Could not create document from image."
	MsgCopyPages             = "Could not copy pages."
	MsgRotatePages           = "Could not rotate pages."
	MsgAddAttachment         = "Could not add attachment."
	MsgConversionTimeout     = "Document conversion timed out."
	MsgConversionFailed      = "Could not convert document."
	MsgEmptyDocument         = "Document has no parts."
	MsgRenderPage            = "Could not render page."
	MsgExtractText           = "Could not extract text."
	MsgReadAttachments       = "Could not read attachments."
	MsgReadSignatures        = "Could not read signatures."
	MsgSaveDocument          = "Could not save document."
	MsgRetryBudgetExceeded   = "exceeded retry budget"
	MsgDownloadFailedPattern = "Could not download source file %s."
)

// JobError is a failure that ends the job. Retrying the message would produce
// the same outcome, so the worker records it on the job and acknowledges.
type JobError struct {
	Message string
	Err     error
}

func NewJobError(message string) *JobError {
	return &JobError{Message: message}
}

func WrapJobError(message string, err error) *JobError {
	return &JobError{Message: message, Err: err}
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *JobError) Unwrap() error {
	return e.Err
}
