package ios

import (
	"bytes"
	"fmt"

	plist "howett.net/plist"
)

// MuxResponse is a generic response message sent by usbmuxd
// it contains a Number response code
type MuxResponse struct {
	MessageType string
	Number      uint32
}

// MuxResponsefromBytes parses a MuxResponse struct from bytes
func MuxResponsefromBytes(plistBytes []byte) MuxResponse {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var usbMuxResponse MuxResponse
	_ = decoder.Decode(&usbMuxResponse)
	return usbMuxResponse
}

// IsSuccessFull returns UsbMuxResponse.Number==0
func (u MuxResponse) IsSuccessFull() bool {
	return u.Number == 0
}

// Err converts a failed response to an error naming the usbmuxd result code.
func (u MuxResponse) Err() error {
	if u.IsSuccessFull() {
		return nil
	}
	switch u.Number {
	case 2:
		return fmt.Errorf("usbmuxd: bad device (code %d)", u.Number)
	case 3:
		return fmt.Errorf("usbmuxd: connection refused (code %d)", u.Number)
	case 6:
		return fmt.Errorf("usbmuxd: bad version (code %d)", u.Number)
	default:
		return fmt.Errorf("usbmuxd: failed with code %d", u.Number)
	}
}
