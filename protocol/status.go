package protocol

import (
	"net/http"
	"strconv"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// StatusText returns the canonical reason phrase for code, or "" when the
// code is not a recognized HTTP status code.
func StatusText(code int) string {
	return http.StatusText(code)
}

// ValidStatusCode reports whether code is a recognized HTTP status code.
func ValidStatusCode(code int) bool {
	return StatusText(code) != ""
}

func checkStatusCode(code int) error {
	if !ValidStatusCode(code) {
		return errors.NewArgumentError(errors.ArgumentErrorUnknownStatusCode, strconv.Itoa(code))
	}
	return nil
}

// Bodyless reports whether a response with this status never carries content.
func Bodyless(code int) bool {
	return (code >= 100 && code < 200) || code == http.StatusNoContent || code == http.StatusNotModified
}
