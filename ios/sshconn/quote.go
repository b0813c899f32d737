package sshconn

import "strings"

// Quote makes s a single shell word. The result is wrapped in single quotes, every
// embedded single quote is closed, backslash-escaped and reopened ('\''), so the
// remote shell neither splits nor expands it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
