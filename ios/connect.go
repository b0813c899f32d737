package ios

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

type connectMessage struct {
	BundleID            string
	ClientVersionString string
	MessageType         string
	ProgName            string
	LibUSBMuxVersion    uint32 `plist:"kLibUSBMuxVersion"`
	DeviceID            uint32
	PortNumber          uint16
}

func newConnectMessage(deviceID int, portNumber uint16) connectMessage {
	return connectMessage{
		BundleID:            "io.iosdbg",
		ClientVersionString: "iosdbg-usbmux-0.0.1",
		MessageType:         "Connect",
		ProgName:            "iosdbg",
		LibUSBMuxVersion:    3,
		DeviceID:            uint32(deviceID),
		PortNumber:          portNumber,
	}
}

// Connect issues a Connect Message to UsbMuxd for the given deviceID on the given port.
// After a successful connect the UsbMuxConnection carries the raw TCP stream of that port,
// so the DeviceConnection should be taken with ReleaseDeviceConnection.
// It returns an error containing the UsbMux error code should the connect fail.
func (muxConn *UsbMuxConnection) Connect(deviceID int, port uint16) error {
	msg := newConnectMessage(deviceID, Ntohs(port))
	err := muxConn.Send(msg)
	if err != nil {
		return err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return err
	}
	response := MuxResponsefromBytes(resp.Payload)
	if err := response.Err(); err != nil {
		return fmt.Errorf("Failed connecting to port %d: %w", port, err)
	}
	return nil
}

// ConnectToPort opens a new usbmuxd connection and connects it to port on the device.
func ConnectToPort(device DeviceEntry, port uint16) (DeviceConnectionInterface, error) {
	muxConn, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, fmt.Errorf("Could not connect to usbmuxd socket, is it running? %w", err)
	}
	err = muxConn.Connect(device.DeviceID, port)
	if err != nil {
		muxConn.Close()
		return nil, err
	}
	return muxConn.ReleaseDeviceConnection(), nil
}

// UsbmuxOpener opens tunnel channels as plain usbmuxd connections, without going through SSH.
type UsbmuxOpener struct {
	Device DeviceEntry
}

// OpenChannel accepts channel names of the form tcp:<port>.
func (u UsbmuxOpener) OpenChannel(name string) (io.ReadWriteCloser, error) {
	port, err := ParseChannelName(name)
	if err != nil {
		return nil, err
	}
	return ConnectToPort(u.Device, port)
}

// ParseChannelName extracts the port from a channel name like tcp:27042
func ParseChannelName(name string) (uint16, error) {
	proto, portString, ok := strings.Cut(name, ":")
	if !ok || proto != "tcp" {
		return 0, fmt.Errorf("unsupported channel %q, expected tcp:<port>", name)
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port in channel %q: %w", name, err)
	}
	return uint16(port), nil
}
