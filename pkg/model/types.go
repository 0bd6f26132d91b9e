package model

import "encoding/json"

type TraversalID string

// SessionParams 一次遍历的入参，创建后不再修改
type SessionParams struct {
	Email    string `json:"email"`
	Secret   string `json:"secret"`
	StartURL string `json:"url"`
}

// Submission 提交给答题端点的请求体
type Submission struct {
	Email  string          `json:"email"`
	Secret string          `json:"secret"`
	URL    string          `json:"url"`
	Answer json.RawMessage `json:"answer"`
}

// SubmissionResponse 答题端点的响应，只有 NextURL 决定下一跳
type SubmissionResponse struct {
	StatusCode int             `json:"statusCode"`
	NextURL    string          `json:"url"`
	Correct    *bool           `json:"correct"`
	Reason     string          `json:"reason"`
	Raw        json.RawMessage `json:"raw"`
}

// TerminationReason 遍历结束原因
type TerminationReason string

const (
	ReasonCompleted    TerminationReason = "completed"
	ReasonNoMatch      TerminationReason = "no_match"
	ReasonDeadEnd      TerminationReason = "dead_end"
	ReasonDeadline     TerminationReason = "deadline"
	ReasonLoadError    TerminationReason = "load_error"
	ReasonSubmitError  TerminationReason = "submit_error"
	ReasonSessionError TerminationReason = "session_error"
	ReasonError        TerminationReason = "error"
	ReasonCanceled     TerminationReason = "canceled"
)

// TraversalInfo 正在运行的遍历
type TraversalInfo struct {
	ID       TraversalID `json:"id"`
	StartURL string      `json:"url"`
	Email    string      `json:"email"`
}
