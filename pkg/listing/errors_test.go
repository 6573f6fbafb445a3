package listing_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	transport := &listing.TransportError{URL: "/v1/maps?page=1", StatusCode: http.StatusBadGateway, Err: errBackendDown}
	decode := &listing.DecodeError{URL: "/v1/maps?page=1", Err: listing.ErrEmptyBody}
	invalid := &listing.InvalidParameterError{Field: "page", Value: 0, Reason: "must be 1 or greater"}

	tests := []struct {
		name      string
		err       error
		transport bool
		decode    bool
		invalid   bool
		status    int
	}{
		{name: "transport", err: transport, transport: true, status: http.StatusBadGateway},
		{name: "wrapped transport", err: fmt.Errorf("listing maps: %w", transport), transport: true, status: http.StatusBadGateway},
		{name: "decode", err: decode, decode: true},
		{name: "invalid parameter", err: invalid, invalid: true},
		{name: "unrelated", err: errors.New("boom")}, //nolint:err113
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.transport, listing.IsTransport(tt.err))
			assert.Equal(t, tt.decode, listing.IsDecode(tt.err))
			assert.Equal(t, tt.invalid, listing.IsInvalidParameter(tt.err))
			assert.Equal(t, tt.status, listing.StatusCode(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	transport := &listing.TransportError{URL: "/v1/maps", StatusCode: http.StatusNotFound, Err: errBackendDown}
	assert.Equal(t, "request to /v1/maps failed with status 404: backend down", transport.Error())

	plain := &listing.TransportError{URL: "/v1/maps", Err: errBackendDown}
	assert.Equal(t, "request to /v1/maps failed: backend down", plain.Error())

	invalid := &listing.InvalidParameterError{Field: "page", Value: 0, Reason: "must be 1 or greater"}
	assert.Equal(t, `invalid value 0 for parameter "page": must be 1 or greater`, invalid.Error())

	assert.ErrorIs(t, &listing.DecodeError{Err: listing.ErrEmptyBody}, listing.ErrEmptyBody)
}
