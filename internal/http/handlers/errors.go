// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// clients branch on them for programmatic error handling.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "conflict: community is connected by another user"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"

	// Domain-specific:
	ErrCodeDownstream = "platform_error"
)
