package ios

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"howett.net/plist"
)

//ListenType contains infos for creating a LISTEN message for USBMUX
type ListenType struct {
	MessageType         string
	ProgName            string
	ClientVersionString string
	ConnType            int
	kLibUSBMuxVersion   int
}

//AttachedMessage contains some info about when iOS devices are connected or disconnected from the host
type AttachedMessage struct {
	MessageType string
	DeviceID    int
	Properties  DeviceProperties
}

func attachedFromBytes(plistBytes []byte) (AttachedMessage, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var obj AttachedMessage
	err := decoder.Decode(&obj)
	return obj, err
}

//DeviceAttached checks if the attached message is about a newly added device
func (msg AttachedMessage) DeviceAttached() bool {
	return "Attached" == msg.MessageType
}

// Entry converts the message into the DeviceEntry used for connecting.
func (msg AttachedMessage) Entry() DeviceEntry {
	return DeviceEntry{DeviceID: msg.DeviceID, MessageType: msg.MessageType, Properties: msg.Properties}
}

//NewListen creates a new Listen Message for USBMUX
func NewListen() ListenType {
	return ListenType{
		MessageType:         "Listen",
		ProgName:            "iosdbg",
		ClientVersionString: "iosdbg-usbmux-0.0.1",
		ConnType:            1,
		kLibUSBMuxVersion:   3,
	}
}

//Listen will send a listen command to usbmuxd which will cause this connection to stay open indefinitely and receive
// messages whenever devices are connected or disconnected
func (muxConn *UsbMuxConnection) Listen() (func() (AttachedMessage, error), error) {
	err := muxConn.Send(NewListen())
	if err != nil {
		return nil, err
	}
	response, err := muxConn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := MuxResponsefromBytes(response.Payload).Err(); err != nil {
		return nil, fmt.Errorf("Listen command to usbmuxd failed: %w", err)
	}

	return func() (AttachedMessage, error) {
		mux, err := muxConn.ReadMessage()
		if err != nil {
			return AttachedMessage{}, err
		}
		return attachedFromBytes(mux.Payload)
	}, nil
}

// WaitForDevice blocks until the device with udid is attached, any device if udid is empty.
// usbmuxd reports devices that are already attached right after Listen, so this returns
// immediately for those.
func (muxConn *UsbMuxConnection) WaitForDevice(ctx context.Context, udid string) (DeviceEntry, error) {
	stop := context.AfterFunc(ctx, func() { muxConn.Close() })
	defer stop()

	receive, err := muxConn.Listen()
	if err != nil {
		if ctx.Err() != nil {
			return DeviceEntry{}, ctx.Err()
		}
		return DeviceEntry{}, err
	}
	log.WithFields(log.Fields{"udid": udid}).Info("waiting for device")
	for {
		msg, err := receive()
		if err != nil {
			if ctx.Err() != nil {
				return DeviceEntry{}, ctx.Err()
			}
			return DeviceEntry{}, err
		}
		if msg.DeviceAttached() && (udid == "" || msg.Properties.SerialNumber == udid) {
			log.WithFields(log.Fields{"udid": msg.Properties.SerialNumber}).Info("device attached")
			return msg.Entry(), nil
		}
	}
}

// WaitForDevice opens a new usbmuxd connection and waits for the device on it.
func WaitForDevice(ctx context.Context, udid string) (DeviceEntry, error) {
	muxConn, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return DeviceEntry{}, err
	}
	defer muxConn.Close()
	return muxConn.WaitForDevice(ctx, udid)
}
