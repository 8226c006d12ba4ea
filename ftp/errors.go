package ftp

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR")
	Command string

	// Response is the message received from the server (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the error is a transient negative reply (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the error is a permanent negative reply (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

var (
	notExistPhrases   = []string{"not found", "no such", "not exist", "doesn't exist", "does not exist", "cannot find", "can't find"}
	existPhrases      = []string{"exist", "already"}
	permissionPhrases = []string{"permission", "denied", "not allowed", "forbidden", "access"}
)

func mentions(msg string, phrases []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func protocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsUnavailable reports whether err is a "file unavailable" reply (450 or
// 550). RFC 959 uses these codes for missing files and for access problems
// alike, so callers that need more detail should also check IsNotExist,
// IsExist and IsPermission.
func IsUnavailable(err error) bool {
	pe, ok := protocolError(err)
	return ok && (pe.Code == 450 || pe.Code == 550)
}

// IsNotExist reports whether err says the target path does not exist.
// Only replies whose text names the condition are matched; a bare 550 is
// left ambiguous.
func IsNotExist(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	pe, ok := protocolError(err)
	if !ok || (pe.Code != 450 && pe.Code != 550) {
		return false
	}
	return mentions(pe.Response, notExistPhrases)
}

// IsExist reports whether err says the target path already exists.
func IsExist(err error) bool {
	if errors.Is(err, os.ErrExist) {
		return true
	}
	pe, ok := protocolError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case 521:
		// Common "directory already exists" reply to MKD.
		return true
	case 550, 553:
		return mentions(pe.Response, existPhrases) && !mentions(pe.Response, notExistPhrases)
	}
	return false
}

// IsPermission reports whether err is a reply refusing access.
func IsPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	pe, ok := protocolError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case 530, 532:
		return true
	case 450, 550, 553:
		return mentions(pe.Response, permissionPhrases)
	}
	return false
}
