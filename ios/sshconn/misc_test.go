package sshconn_test

import (
	"os/exec"
	"testing"

	"github.com/iosdbg/iosdbg/ios/sshconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	plist "howett.net/plist"
)

const systemVersionXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>ProductBuildVersion</key>
	<string>20E252</string>
	<key>ProductName</key>
	<string>iPhone OS</string>
	<key>ProductVersion</key>
	<string>16.4.1</string>
</dict>
</plist>
`

func TestQuoteRoundTrip(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh available")
	}
	for _, s := range []string{
		"it's a 'test'",
		`back\slash`,
		"/var/containers/Bundle/Application/My App.app",
		"$HOME `id` ; rm -rf *",
		"",
	} {
		out, err := exec.Command(sh, "-c", "printf %s "+sshconn.Quote(s)).Output()
		require.NoError(t, err, s)
		assert.Equal(t, s, string(out))
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'/tmp/a b'`, sshconn.Quote("/tmp/a b"))
	assert.Equal(t, `'it'\''s'`, sshconn.Quote("it's"))
}

func TestParseSystemVersion(t *testing.T) {
	version, err := sshconn.ParseSystemVersion([]byte(systemVersionXML))
	require.NoError(t, err)
	assert.Equal(t, "16.4.1", version)

	binary, err := plist.Marshal(map[string]string{"ProductVersion": "17.0"}, plist.BinaryFormat)
	require.NoError(t, err)
	version, err = sshconn.ParseSystemVersion(binary)
	require.NoError(t, err)
	assert.Equal(t, "17.0", version)

	_, err = sshconn.ParseSystemVersion([]byte("<plist><dict></dict></plist>"))
	assert.Error(t, err)
}
