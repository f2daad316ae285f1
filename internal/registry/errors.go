package registry

import (
	"errors"
	"net/http"

	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/ocidist/core"
)

// ErrRangeNotSupported indicates the registry ignored or rejected a Range
// request on a blob fetch.
var ErrRangeNotSupported = errors.New("ocidist: registry does not support range requests")

// mapError converts ORAS registry/transport errors into the core error
// taxonomy, so callers above this package never need to know oras-go is
// underneath.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, errdef.ErrNotFound) {
		return core.ErrDescriptorNotFound
	}

	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusNotFound:
			return core.ErrDescriptorNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return &core.HTTPError{StatusCode: errResp.StatusCode, Message: errResp.Error()}
		}

		details := make([]core.RegistryErrorDetail, 0, len(errResp.Errors))
		for _, e := range errResp.Errors {
			details = append(details, core.RegistryErrorDetail{
				Code:    string(e.Code),
				Message: e.Message,
				Detail:  e.Detail,
			})
		}
		return &core.FromResponseError{StatusCode: errResp.StatusCode, Errors: details}
	}

	return err
}
