package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrAgentNotFound, http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrAlreadyRunning, http.StatusConflict},
		{domain.ErrChallengeExpired, http.StatusConflict},
		{fmt.Errorf("%w: completed exceeds total", domain.ErrInvalidSnapshot), http.StatusBadRequest},
		{domain.ErrInvalidCode, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}
