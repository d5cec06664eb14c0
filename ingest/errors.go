package ingest

import "strings"

// UserFacingMessage maps raw provider and pipeline errors to messages safe to
// surface to submitters. The raw error still goes to the logs.
func UserFacingMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "429"):
		return "The extraction service is busy. Please try again in a few minutes."
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "timeout"):
		return "Processing took too long. Please try again with a smaller document."
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return "The extraction service rejected the request. Please contact support."
	case strings.Contains(msg, "internal"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "unavailable"):
		return "The extraction service had an internal problem. Please try again later."
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "could not be parsed"),
		strings.Contains(msg, "too complex"):
		return "The document could not be read as a bank statement. Please check the file and try again."
	default:
		return "Something went wrong while processing the statement. Please try again."
	}
}
