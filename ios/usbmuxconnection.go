package ios

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GetSocketTypeAndAddress splits scheme://address into network and address for net.Dial
func GetSocketTypeAndAddress(socketAddress string) (string, string) {
	chunks := strings.Split(socketAddress, "://")
	if len(chunks) != 2 {
		panic("Needs scheme://address")
	}
	return chunks[0], chunks[1]
}

// GetUsbmuxdSocket this is the default socket address for the platform to connect to.
func GetUsbmuxdSocket() string {
	socketOverride := os.Getenv("USBMUXD_SOCKET_ADDRESS")
	if socketOverride != "" {
		if strings.Contains(socketOverride, ":") {
			return "tcp://" + socketOverride
		}
		return "unix://" + socketOverride
	}
	switch runtime.GOOS {
	case "windows":
		return "tcp://127.0.0.1:27015"
	default:
		return "unix:///var/run/usbmuxd"
	}
}

// UsbMuxConnection can send and read messages to the usbmuxd process to list devices
// and connect to ports on the phone. Messages follow a request-response pattern. There is a tag integer
// in the message header, that is increased with every sent message.
type UsbMuxConnection struct {
	// tag will be incremented for every message, so responses can be correlated to requests
	tag        uint32
	deviceConn DeviceConnectionInterface
}

// NewUsbMuxConnection creates a new UsbMuxConnection from an already initialized DeviceConnectionInterface
func NewUsbMuxConnection(deviceConn DeviceConnectionInterface) *UsbMuxConnection {
	return &UsbMuxConnection{tag: 0, deviceConn: deviceConn}
}

// NewUsbMuxConnectionSimple creates a new UsbMuxConnection with a connection to the platform usbmuxd socket
func NewUsbMuxConnectionSimple() (*UsbMuxConnection, error) {
	deviceConn, err := NewDeviceConnection(GetUsbmuxdSocket())
	if err != nil {
		return nil, err
	}
	return &UsbMuxConnection{tag: 0, deviceConn: deviceConn}, nil
}

// ReleaseDeviceConnection dereferences this UsbMuxConnection from the underlying DeviceConnection and it returns the DeviceConnection for later use.
// This UsbMuxConnection cannot be used after calling this.
func (muxConn *UsbMuxConnection) ReleaseDeviceConnection() DeviceConnectionInterface {
	conn := muxConn.deviceConn
	muxConn.deviceConn = nil
	return conn
}

// Close calls close on the underlying DeviceConnection
func (muxConn *UsbMuxConnection) Close() error {
	if muxConn.deviceConn == nil {
		return nil
	}
	return muxConn.deviceConn.Close()
}

// UsbMuxMessage contains header and payload for a message to usbmux
type UsbMuxMessage struct {
	Header  UsbMuxHeader
	Payload []byte
}

// UsbMuxHeader contains the header for plist messages for the usbmux daemon.
type UsbMuxHeader struct {
	Length  uint32
	Version uint32
	Request uint32
	Tag     uint32
}

// Send encodes a Plist message and writes it to usbmuxd. Increases the connection tag by one.
func (muxConn *UsbMuxConnection) Send(msg interface{}) error {
	if muxConn.deviceConn == nil {
		return io.EOF
	}
	muxConn.tag++
	err := muxConn.encode(msg, muxConn.deviceConn.Writer())
	if err != nil {
		log.Error("Error sending mux")
		return err
	}
	return nil
}

// ReadMessage blocks until the next muxMessage is available on the underlying DeviceConnection and returns it.
func (muxConn *UsbMuxConnection) ReadMessage() (UsbMuxMessage, error) {
	if muxConn.deviceConn == nil {
		return UsbMuxMessage{}, io.EOF
	}
	return muxConn.decode(muxConn.deviceConn.Reader())
}

func (muxConn *UsbMuxConnection) encode(message interface{}, writer io.Writer) error {
	log.Tracef("UsbMux send %v  on  %v", reflect.TypeOf(message), &muxConn.deviceConn)
	mbytes := ToPlistBytes(message)
	err := writeHeader(len(mbytes), muxConn.tag, writer)
	if err != nil {
		return err
	}
	_, err = writer.Write(mbytes)
	return err
}

func writeHeader(length int, tag uint32, writer io.Writer) error {
	header := UsbMuxHeader{Length: 16 + uint32(length), Request: 8, Version: 1, Tag: tag}
	return binary.Write(writer, binary.LittleEndian, header)
}

func (muxConn *UsbMuxConnection) decode(r io.Reader) (UsbMuxMessage, error) {
	var muxHeader UsbMuxHeader

	err := binary.Read(r, binary.LittleEndian, &muxHeader)
	if err != nil {
		return UsbMuxMessage{}, err
	}
	if muxHeader.Length < 16 {
		return UsbMuxMessage{}, fmt.Errorf("invalid usbmux header length %d", muxHeader.Length)
	}

	payloadBytes := make([]byte, muxHeader.Length-16)
	n, err := io.ReadFull(r, payloadBytes)
	if err != nil {
		return UsbMuxMessage{}, fmt.Errorf("Error '%s' while reading usbmux package. Only %d bytes received instead of %d", err.Error(), n, muxHeader.Length-16)
	}
	log.Tracef("UsbMux Receive on %v", &muxConn.deviceConn)

	return UsbMuxMessage{muxHeader, payloadBytes}, nil
}
