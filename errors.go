package kustoingest

import (
	"github.com/pkg/errors"
)

var (
	ErrMissingCredentials = errors.New("kusto: no tenant/client id/secret or access token configured")
	ErrEmptyResult        = errors.New("kusto: query returned no rows")
	ErrCSVRead            = errors.New("kusto: failed to read csv")
	ErrNoTimestampColumn  = errors.New("kusto: timestamp column missing from query result")
	ErrInvalidConfig      = errors.New("invalid config")
)
