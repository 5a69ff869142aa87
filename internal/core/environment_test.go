package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironment(t *testing.T) {
	assert.True(t, DevelopmentEnv.IsDevelopment())
	assert.False(t, DevelopmentEnv.IsProduction())
	assert.True(t, ProductionEnv.IsProduction())

	assert.Nil(t, DevelopmentEnv.Validate())
	assert.Nil(t, ProductionEnv.Validate())
	assert.NotNil(t, Environment("staging").Validate())
	assert.NotNil(t, Environment("").Validate())
}
