package model

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidWorkspaceID indicates that a workspace identifier is empty or exceeds storage bounds.
	ErrInvalidWorkspaceID = errors.New("model: invalid workspace id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("model: invalid user id")
	// ErrInvalidNodeID indicates that a node identifier is empty or exceeds storage bounds.
	ErrInvalidNodeID = errors.New("model: invalid node id")
	// ErrInvalidDeviceID indicates that a device identifier is empty or exceeds storage bounds.
	ErrInvalidDeviceID = errors.New("model: invalid device id")
	// ErrInvalidTimestamp indicates that a unix timestamp value is not positive.
	ErrInvalidTimestamp = errors.New("model: invalid unix timestamp")
)

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// WorkspaceID represents a validated workspace identifier.
type WorkspaceID string

// NewWorkspaceID validates raw input and returns a WorkspaceID.
func NewWorkspaceID(rawInput string) (WorkspaceID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidWorkspaceID)
	if err != nil {
		return "", err
	}
	return WorkspaceID(value), nil
}

// String returns the underlying string identifier.
func (id WorkspaceID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(value), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is unset.
func (id UserID) IsZero() bool {
	return id == ""
}

// NodeID represents a validated node identifier. Documents share the node
// identifier space, so a NodeID also addresses a document's update log.
type NodeID string

// NewNodeID validates raw input and returns a NodeID.
func NewNodeID(rawInput string) (NodeID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidNodeID)
	if err != nil {
		return "", err
	}
	return NodeID(value), nil
}

// String returns the underlying string identifier.
func (id NodeID) String() string {
	return string(id)
}

// DeviceID represents a validated device identifier.
type DeviceID string

// NewDeviceID validates raw input and returns a DeviceID.
func NewDeviceID(rawInput string) (DeviceID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidDeviceID)
	if err != nil {
		return "", err
	}
	return DeviceID(value), nil
}

// String returns the underlying string identifier.
func (id DeviceID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is unset.
func (id DeviceID) IsZero() bool {
	return id == ""
}

// UnixTimestamp represents a validated unix timestamp in seconds.
type UnixTimestamp int64

// NewUnixTimestamp validates the value and returns a UnixTimestamp.
func NewUnixTimestamp(value int64) (UnixTimestamp, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixTimestamp(value), nil
}

// Int64 exposes the raw unix seconds value.
func (ts UnixTimestamp) Int64() int64 {
	return int64(ts)
}
