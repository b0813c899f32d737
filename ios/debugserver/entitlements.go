package debugserver

import _ "embed"

//go:embed debugserver.ent.xml
var entitlements []byte

// Entitlements returns the entitlement manifest that debugserver is signed with.
func Entitlements() []byte {
	return append([]byte(nil), entitlements...)
}
