// Copyright 2022 Datafuse Labs.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kustoingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrDoRequest      = errors.New("DoRequestFailed")
	ErrReadResponse   = errors.New("ReadResponseFailed")
	ErrAuthentication = errors.New("AuthenticationFailed")
)

// ServiceError is the error object the store embeds in failed responses.
type ServiceError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Type        string `json:"@type"`
	TypeMessage string `json:"@message"`
	Permanent   bool   `json:"@permanent"`
}

// Semantic reports whether the store rejected the request as semantically
// invalid (unknown column, type mismatch, syntax).
func (e ServiceError) Semantic() bool {
	return strings.Contains(e.Type, "Semantic") || strings.Contains(e.Code, "Semantic") ||
		strings.Contains(e.Type, "SyntaxError")
}

type APIErrorResponseBody struct {
	Error  ServiceError `json:"error"`
	Tables []DataTable  `json:"Tables,omitempty"`
}

type APIError struct {
	RespBody   APIErrorResponseBody
	RespText   string
	StatusCode int
	Hint       string
}

func (e APIError) Error() string {
	message := e.RespBody.Error.TypeMessage
	if message == "" {
		message = e.RespBody.Error.Message
	}
	if message == "" {
		message = e.RespText
	}
	message = fmt.Sprintf("%d %s", e.StatusCode, message)
	if e.Hint != "" {
		message = strings.Trim(message, ".")
		message += ". " + e.Hint
	}
	return message
}

// PartialRows counts the rows of any result tables returned next to the error.
func (e APIError) PartialRows() int {
	n := 0
	for _, t := range e.RespBody.Tables {
		n += len(t.Rows)
	}
	return n
}

func NewAPIError(hint string, status int, respBuf []byte) error {
	respBody := APIErrorResponseBody{}
	_ = json.Unmarshal(respBuf, &respBody)
	return APIError{
		RespBody:   respBody,
		RespText:   string(respBuf),
		StatusCode: status,
		Hint:       hint,
	}
}

// PushError describes a structured failure of a bulk push.
type PushError struct {
	SemanticError     bool
	HasPartialResults bool
	PartialRows       int
	Err               error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push failed (semantic_error=%t partial_results=%t partial_rows=%d): %v",
		e.SemanticError, e.HasPartialResults, e.PartialRows, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

func newPushError(err error) error {
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.RespBody.Error.Code == "" && apiErr.RespBody.Error.Type == "" {
		return err
	}
	rows := apiErr.PartialRows()
	return &PushError{
		SemanticError:     apiErr.RespBody.Error.Semantic(),
		HasPartialResults: rows > 0,
		PartialRows:       rows,
		Err:               err,
	}
}

// ErrorKind groups failures by how a caller should react to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindEmptyResult
	KindAuth
	KindQuery
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindEmptyResult:
		return "empty_result"
	case KindAuth:
		return "auth"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with this kind may succeed
// when attempted again.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindEmptyResult
}

// Classify maps err onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrEmptyResult) {
		return KindEmptyResult
	}
	if errors.Is(err, ErrAuthentication) {
		return KindAuth
	}
	if errors.Is(err, ErrNoTimestampColumn) {
		return KindQuery
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return KindAuth
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			if apiErr.RespBody.Error.Permanent {
				return KindQuery
			}
			return KindTransient
		case apiErr.StatusCode >= 400:
			return KindQuery
		}
		if apiErr.RespBody.Error.Semantic() || apiErr.RespBody.Error.Permanent {
			return KindQuery
		}
		return KindTransient
	}
	if errors.Is(err, ErrDoRequest) || errors.Is(err, ErrReadResponse) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}
