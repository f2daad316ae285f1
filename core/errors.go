package core

import (
	"errors"
	"fmt"
)

// Sentinel errors that carry no additional data.
var (
	// ErrBlobNotFound indicates a blob lookup failed in Layout.
	ErrBlobNotFound = errors.New("ocidist: blob not found")

	// ErrDescriptorNotFound indicates a resolve() found no matching entry.
	ErrDescriptorNotFound = errors.New("ocidist: descriptor not found")

	// ErrPlatformNotFound indicates no index entry matched the platform selector.
	ErrPlatformNotFound = errors.New("ocidist: no manifest matches the requested platform")
)

// InvalidRegistryError reports a malformed registry host in a Reference.
type InvalidRegistryError struct {
	Value  string
	Reason string
}

func (e *InvalidRegistryError) Error() string {
	return fmt.Sprintf("ocidist: invalid registry %q: %s", e.Value, e.Reason)
}

// InvalidRepositoryError reports a malformed repository name in a Reference.
type InvalidRepositoryError struct {
	Value  string
	Reason string
}

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("ocidist: invalid repository %q: %s", e.Value, e.Reason)
}

// InvalidTagError reports a reference segment that is neither a valid tag
// nor a valid digest.
type InvalidTagError struct {
	Value  string
	Reason string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("ocidist: invalid tag %q: %s", e.Value, e.Reason)
}

// InvalidDigestError reports a malformed digest string.
type InvalidDigestError struct {
	Digest string
	Reason string
}

func (e *InvalidDigestError) Error() string {
	return fmt.Sprintf("ocidist: invalid digest %q: %s", e.Digest, e.Reason)
}

// SizeMismatchError reports that a stream's length did not match the
// descriptor it was claimed to satisfy.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("ocidist: size mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DigestMismatchError reports that a stream's computed digest did not match
// the descriptor it was claimed to satisfy.
type DigestMismatchError struct {
	Expected Digest
	Actual   Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("ocidist: digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// UnableToRemoveError reports that a descriptor could not be removed from
// the Layout, because it is referenced or has an in-flight publication.
type UnableToRemoveError struct {
	Descriptor Descriptor
	Reason     string
}

func (e *UnableToRemoveError) Error() string {
	return fmt.Sprintf("ocidist: unable to remove %s: %s", e.Descriptor.Digest, e.Reason)
}

// UnsupportedManifestError reports a media type outside the accepted set at
// a given location (manifest digest or a descriptive label).
type UnsupportedManifestError struct {
	MediaType string
	Location  string
}

func (e *UnsupportedManifestError) Error() string {
	return fmt.Sprintf("ocidist: unsupported manifest media type %q at %s", e.MediaType, e.Location)
}

// InvalidLayoutError reports a malformed or unwritable OCI image layout root.
type InvalidLayoutError struct {
	Path   string
	Reason string
}

func (e *InvalidLayoutError) Error() string {
	return fmt.Sprintf("ocidist: invalid layout at %s: %s", e.Path, e.Reason)
}

// HTTPError reports a raw HTTP-level failure from the registry transport.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ocidist: http %d: %s", e.StatusCode, e.Message)
}

// RegistryErrorDetail is one entry of a distribution-spec error response body.
type RegistryErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// FromResponseError wraps the distribution-spec JSON error body
// {"errors":[...]} returned by a registry.
type FromResponseError struct {
	StatusCode int
	Errors     []RegistryErrorDetail
}

func (e *FromResponseError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("ocidist: registry error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("ocidist: registry error (status %d): %s: %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
}

// TransferFailedError reports that a concurrent transfer this caller did
// not originate has failed.
type TransferFailedError struct {
	Descriptor Descriptor
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("ocidist: transfer failed for %s", e.Descriptor.Digest)
}

// IncompletePullError reports that post-pull validation failed: the layout
// does not resolve the reference to the expected manifest digest.
type IncompletePullError struct {
	Reference string
}

func (e *IncompletePullError) Error() string {
	return fmt.Sprintf("ocidist: incomplete pull of %s", e.Reference)
}

// GenericError is the escape hatch for conditions that don't warrant a
// dedicated type, such as the GC-during-push guard.
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return "ocidist: " + e.Message
}

// NewGenericError constructs a GenericError with the given message.
func NewGenericError(message string) error {
	return &GenericError{Message: message}
}
