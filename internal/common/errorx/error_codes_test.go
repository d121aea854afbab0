package errorx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	assert.Equal(t, "[E1001] validation: invalid channel", ErrInvalidChannel.Error())
	assert.Equal(t, "[E3001] authorization: cannot subscribe to another project", ErrAnotherProject.Error())
}

func TestAPIError_WithDetailDoesNotMutateShared(t *testing.T) {
	decorated := ErrSessionNotFound.WithDetail("session_id", "s1")

	assert.Nil(t, ErrSessionNotFound.Details)
	assert.Equal(t, "s1", decorated.Details["session_id"])
	assert.Equal(t, ErrSessionNotFound.Code, decorated.Code)
}

func TestAPIError_JSONOmitsHTTPStatus(t *testing.T) {
	out := ErrNoPendingApproval.JSON()
	assert.Contains(t, out, `"code":"E4002"`)
	assert.NotContains(t, out, "HTTPStatus")
}

func TestConvertToAPIError(t *testing.T) {
	// already an APIError, even when wrapped
	wrapped := fmt.Errorf("subscribe: %w", ErrAnotherProject)
	assert.Equal(t, ErrAnotherProject, ConvertToAPIError(wrapped))

	// unknown errors become internal
	got := ConvertToAPIError(errors.New("boom"))
	assert.Equal(t, "E5001", got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
}

func TestErrorsIsMatching(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", ErrNoPendingApproval)
	assert.True(t, errors.Is(wrapped, ErrNoPendingApproval))
}
