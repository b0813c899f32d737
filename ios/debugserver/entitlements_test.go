package debugserver_test

import (
	"testing"

	"github.com/iosdbg/iosdbg/ios/debugserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func TestEntitlementsArePlist(t *testing.T) {
	var parsed map[string]interface{}
	_, err := plist.Unmarshal(debugserver.Entitlements(), &parsed)
	require.NoError(t, err)
	for _, key := range []string{
		"get-task-allow",
		"task_for_pid-allow",
		"platform-application",
		"run-unsigned-code",
		"com.apple.springboard.debugapplications",
		"com.apple.backboardd.launchapplications",
		"com.apple.frontboard.debugapplications",
	} {
		assert.Equal(t, true, parsed[key], key)
	}
}

func TestEntitlementsReturnsCopy(t *testing.T) {
	first := debugserver.Entitlements()
	first[0] = 'x'
	assert.Equal(t, byte('<'), debugserver.Entitlements()[0])
}
