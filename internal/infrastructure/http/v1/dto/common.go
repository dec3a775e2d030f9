// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/id"
)

// --- List Response ---

// ListResponse wraps list results with paging parameters.
type ListResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PageQuery contains limit/offset paging.
type PageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// CenterQuery names the center to operate on. Managers may omit it.
type CenterQuery struct {
	CenterID string `form:"center_id"`
}

// PeriodQuery selects a ledger period. Zero values mean the current period.
type PeriodQuery struct {
	CenterQuery
	Year  int `form:"year" binding:"omitempty,min=1"`
	Month int `form:"month" binding:"omitempty,min=1,max=12"`
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// parseID parses a required id field.
func parseID(field, value string) (id.ID, error) {
	v, err := id.Parse(value)
	if err != nil {
		return id.ID{}, apperror.NewValidation("invalid " + field).WithDetail("field", field)
	}
	return v, nil
}

// parseOptionalID parses an optional id field.
func parseOptionalID(field, value string) (*id.ID, error) {
	v, err := id.ParseOptional(value)
	if err != nil {
		return nil, apperror.NewValidation("invalid " + field).WithDetail("field", field)
	}
	return v, nil
}
