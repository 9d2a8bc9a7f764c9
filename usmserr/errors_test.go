package usmserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "list meters: account must be initialized first",
		(&NotInitializedError{Op: "list meters"}).Error())
	assert.Equal(t, "authentication failed: Invalid Username/Password!",
		(&AuthenticationError{Reason: "Invalid Username/Password!"}).Error())
	assert.Equal(t, "session expired and re-authentication failed",
		(&SessionExpiredError{}).Error())
}

func TestClassifiersMatchWrappedErrors(t *testing.T) {
	err := fmt.Errorf("fetching reading: %w", &SessionExpiredError{Err: errors.New("portal down")})

	assert.True(t, IsSessionExpired(err))
	assert.False(t, IsAuthentication(err))
	assert.False(t, IsNotInitialized(err))
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := &SessionExpiredError{Err: &NetworkError{URL: "https://example.test", Err: cause}}

	assert.True(t, IsSessionExpired(err))
	assert.True(t, IsNetwork(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsDataParse(t *testing.T) {
	err := &DataParseError{Page: "hourly report", Err: errors.New("grid not found")}

	assert.True(t, IsDataParse(err))
	assert.Contains(t, err.Error(), "hourly report")
}
