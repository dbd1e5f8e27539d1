package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

type JobID string

// JobKind discriminates the job input/result union. It doubles as the queue
// subject suffix and the durable consumer name.
type JobKind string

const (
	JobKindPreview   JobKind = "preview"
	JobKindTransform JobKind = "transform"
)

func (k JobKind) Valid() bool {
	return k == JobKindPreview || k == JobKindTransform
}

// ParseJobKind maps a user-supplied string to a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown job kind %q", s)
	}
	return k, nil
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusFinished   JobStatus = "FINISHED"
	JobStatusError      JobStatus = "ERROR"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusError
}

// CanTransition reports whether s → to is one of
// PENDING → IN_PROGRESS → {FINISHED, ERROR}.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusInProgress
	case JobStatusInProgress:
		return to == JobStatusFinished || to == JobStatusError
	default:
		return false
	}
}

// Job is the authoritative record of one unit of work.
type Job struct {
	ID          JobID
	Kind        JobKind
	Token       string
	Created     time.Time
	Updated     time.Time
	Status      JobStatus
	Message     *string
	CallbackURI *string
	Input       JobInput
	Result      *JobResult
}

// JobInput holds exactly one of the two bodies, matching the job kind.
type JobInput struct {
	Transform *TransformInput
	Preview   *PreviewInput
}

// JobResult holds exactly one of the two results, matching the job kind.
type JobResult struct {
	Transform TransformResult
	Preview   *PreviewResult
}

// NewTransformJob builds a pending transform job.
func NewTransformJob(id JobID, token string, now time.Time, callbackURI *string, input TransformInput) Job {
	return Job{
		ID:          id,
		Kind:        JobKindTransform,
		Token:       token,
		Created:     now,
		Updated:     now,
		Status:      JobStatusPending,
		CallbackURI: callbackURI,
		Input:       JobInput{Transform: &input},
	}
}

// NewPreviewJob builds a pending preview job.
func NewPreviewJob(id JobID, token string, now time.Time, callbackURI *string, input PreviewInput) Job {
	return Job{
		ID:          id,
		Kind:        JobKindPreview,
		Token:       token,
		Created:     now,
		Updated:     now,
		Status:      JobStatusPending,
		CallbackURI: callbackURI,
		Input:       JobInput{Preview: &input},
	}
}

// MarkInProgress moves a pending job to IN_PROGRESS. A job that is already
// in progress is left untouched so redeliveries pass through.
func (j *Job) MarkInProgress(now time.Time) error {
	if j.Status == JobStatusInProgress {
		return nil
	}
	if !j.Status.CanTransition(JobStatusInProgress) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusInProgress)
	}
	j.Status = JobStatusInProgress
	j.Updated = now
	return nil
}

// Finish stores the result and moves the job to FINISHED.
func (j *Job) Finish(result JobResult, now time.Time) error {
	if !j.Status.CanTransition(JobStatusFinished) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusFinished)
	}
	if err := result.matches(j.Kind); err != nil {
		return err
	}
	j.Status = JobStatusFinished
	j.Result = &result
	j.Message = nil
	j.Updated = now
	return nil
}

// Fail stores the message and moves the job to ERROR.
func (j *Job) Fail(message string, now time.Time) error {
	if !j.Status.CanTransition(JobStatusError) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusError)
	}
	j.Status = JobStatusError
	j.Message = &message
	j.Result = nil
	j.Updated = now
	return nil
}

// Validate checks the record-level invariants.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedJob)
	}
	if j.Token == "" {
		return fmt.Errorf("%w: missing token", ErrMalformedJob)
	}
	switch j.Kind {
	case JobKindTransform:
		if j.Input.Transform == nil || j.Input.Preview != nil {
			return fmt.Errorf("%w: input does not match kind %s", ErrMalformedJob, j.Kind)
		}
	case JobKindPreview:
		if j.Input.Preview == nil || j.Input.Transform != nil {
			return fmt.Errorf("%w: input does not match kind %s", ErrMalformedJob, j.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	}
	switch j.Status {
	case JobStatusPending, JobStatusInProgress:
		if j.Result != nil || j.Message != nil {
			return fmt.Errorf("%w: %s job carries an outcome", ErrMalformedJob, j.Status)
		}
	case JobStatusFinished:
		if j.Result == nil || j.Message != nil {
			return fmt.Errorf("%w: finished job must carry only a result", ErrMalformedJob)
		}
	case JobStatusError:
		if j.Message == nil || j.Result != nil {
			return fmt.Errorf("%w: failed job must carry only a message", ErrMalformedJob)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformedJob, j.Status)
	}
	return nil
}

func (r JobResult) matches(kind JobKind) error {
	switch kind {
	case JobKindTransform:
		if r.Preview != nil {
			return fmt.Errorf("%w: preview result on transform job", ErrMalformedJob)
		}
	case JobKindPreview:
		if r.Preview == nil || r.Transform != nil {
			return fmt.Errorf("%w: preview job needs a preview result", ErrMalformedJob)
		}
	}
	return nil
}

// jobRecord is the stored JSON shape. Input and result are decoded according
// to the explicit kind field.
type jobRecord struct {
	ID          JobID           `json:"id"`
	Kind        JobKind         `json:"kind"`
	Token       string          `json:"token"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
	Status      JobStatus       `json:"status"`
	Message     *string         `json:"message"`
	CallbackURI *string         `json:"callbackUri,omitempty"`
	Input       json.RawMessage `json:"input"`
	Result      json.RawMessage `json:"result"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	rec := jobRecord{
		ID:          j.ID,
		Kind:        j.Kind,
		Token:       j.Token,
		Created:     j.Created,
		Updated:     j.Updated,
		Status:      j.Status,
		Message:     j.Message,
		CallbackURI: j.CallbackURI,
	}

	var err error
	switch j.Kind {
	case JobKindTransform:
		rec.Input, err = json.Marshal(j.Input.Transform)
	case JobKindPreview:
		rec.Input, err = json.Marshal(j.Input.Preview)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job input: %w", err)
	}

	rec.Result = json.RawMessage("null")
	if j.Result != nil {
		if rec.Result, err = json.Marshal(j.Result.value(j.Kind)); err != nil {
			return nil, fmt.Errorf("failed to marshal job result: %w", err)
		}
	}
	return json.Marshal(rec)
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	*j = Job{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Token:       rec.Token,
		Created:     rec.Created,
		Updated:     rec.Updated,
		Status:      rec.Status,
		Message:     rec.Message,
		CallbackURI: rec.CallbackURI,
	}

	hasResult := len(rec.Result) > 0 && !bytes.Equal(bytes.TrimSpace(rec.Result), []byte("null"))

	switch rec.Kind {
	case JobKindTransform:
		var in TransformInput
		if err := json.Unmarshal(rec.Input, &in); err != nil {
			return fmt.Errorf("transform input: %w", err)
		}
		j.Input.Transform = &in
		if hasResult {
			var res TransformResult
			if err := json.Unmarshal(rec.Result, &res); err != nil {
				return fmt.Errorf("transform result: %w", err)
			}
			j.Result = &JobResult{Transform: res}
		}
	case JobKindPreview:
		var in PreviewInput
		if err := json.Unmarshal(rec.Input, &in); err != nil {
			return fmt.Errorf("preview input: %w", err)
		}
		j.Input.Preview = &in
		if hasResult {
			var res PreviewResult
			if err := json.Unmarshal(rec.Result, &res); err != nil {
				return fmt.Errorf("preview result: %w", err)
			}
			j.Result = &JobResult{Preview: &res}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, rec.Kind)
	}
	return nil
}

func (r JobResult) value(kind JobKind) any {
	if kind == JobKindPreview {
		return r.Preview
	}
	if r.Transform == nil {
		return TransformResult{}
	}
	return r.Transform
}

// DecodeJob parses a stored record and checks its invariants.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// JobLinks carries the hypermedia links of a DTO.
type JobLinks struct {
	Self string `json:"self"`
}

// JobDTO is the client-facing view of a job, sent to callbacks and served by
// the status surface.
type JobDTO struct {
	ID      JobID     `json:"id"`
	Status  JobStatus `json:"status"`
	Message *string   `json:"message"`
	Result  any       `json:"result"`
	Links   JobLinks  `json:"_links"`
}

// SelfRoute is the read route of a job; the token is the read capability.
func SelfRoute(kind JobKind, id JobID, token string) string {
	return fmt.Sprintf("/%s/%s?token=%s", kind, url.PathEscape(string(id)), url.QueryEscape(token))
}

func (j Job) DTO() JobDTO {
	dto := JobDTO{
		ID:      j.ID,
		Status:  j.Status,
		Message: j.Message,
		Links:   JobLinks{Self: SelfRoute(j.Kind, j.ID, j.Token)},
	}
	if j.Result != nil {
		dto.Result = j.Result.value(j.Kind)
	}
	return dto
}

// JobMessage is the queue payload. It carries only the id; workers re-read the
// record from the job store.
type JobMessage struct {
	ID JobID `json:"id"`
}

// DecodeJobMessage parses a queue payload.
func DecodeJobMessage(data []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if msg.ID == "" {
		return JobMessage{}, fmt.Errorf("%w: message without id", ErrMalformedJob)
	}
	return msg, nil
}
