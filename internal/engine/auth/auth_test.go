package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"surveyflow/internal/config"
)

func TestRequire(t *testing.T) {
	s := Service{Config: config.Default()}

	assert.NoError(t, s.Require([]string{"editor"}, nil, config.PermFlowConfigure))
	assert.NoError(t, s.Require(nil, []string{config.PermEventsRead}, config.PermEventsRead))

	err := s.Require([]string{"respondent"}, nil, config.PermFlowConfigure)
	var fe ForbiddenError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, config.PermFlowConfigure, fe.Permission)

	assert.True(t, s.KnownRole("admin"))
	assert.False(t, s.KnownRole("root"))
	assert.False(t, Service{}.KnownRole("admin"))
}
