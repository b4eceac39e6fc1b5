package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfiguration(t *testing.T) {
	valid := DefaultConfig()
	valid.ServerBin = "/usr/bin/true"
	require.NoError(t, ValidateConfiguration(valid))

	missingBin := valid
	missingBin.ServerBin = ""
	assert.Error(t, ValidateConfiguration(missingBin))

	badTimeout := valid
	badTimeout.Timeout = 0
	assert.Error(t, ValidateConfiguration(badTimeout))

	badParallel := valid
	badParallel.Parallel = 0
	assert.Error(t, ValidateConfiguration(badParallel))

	badPort := valid
	badPort.BasePort = 80
	assert.Error(t, ValidateConfiguration(badPort))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 1, config.Parallel)
	assert.Equal(t, 2*time.Minute, config.Timeout)
	assert.Equal(t, 5*time.Second, config.ReceiveTimeout)
	assert.Equal(t, 18000, config.BasePort)
}
