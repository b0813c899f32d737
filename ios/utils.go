package ios

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

// ToPlistBytes converts a given struct to a XML Plist.
// It returns a byte slice containing the plist.
func ToPlistBytes(data interface{}) []byte {
	bytes, err := plist.Marshal(data, plist.XMLFormat)
	if err != nil {
		// this should not happen
		panic(fmt.Sprintf("Failed converting to plist %v error:%v", data, err))
	}
	return bytes
}

// Ntohs is a re-implementation of the C function Ntohs.
// it means networkorder to host oder and basically swaps
// the endianness of the given int.
// It returns port converted to little endian.
func Ntohs(port uint16) uint16 {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, port)
	return binary.LittleEndian.Uint16(buf)
}

// GetDevice returns:
// the device for the udid if a valid udid is provided.
// if the env variable 'udid' is specified, the device with that udid
// otherwise it returns the first device in the list.
func GetDevice(udid string) (DeviceEntry, error) {
	deviceList, err := ListDevices()
	if err != nil {
		return DeviceEntry{}, err
	}
	return SelectDevice(deviceList, udid)
}

// SelectDevice picks the device with the given udid from the list, falling back to the
// 'udid' env variable and then to the first attached device.
func SelectDevice(deviceList DeviceList, udid string) (DeviceEntry, error) {
	if udid == "" {
		udid = os.Getenv("udid")
		if udid != "" {
			log.Info("using udid from env.udid variable")
		}
	}
	log.Debugf("Looking for device '%s'", udid)
	if udid == "" {
		if len(deviceList.DeviceList) == 0 {
			return DeviceEntry{}, errors.New("no iOS devices are attached to this host")
		}
		device := deviceList.DeviceList[0]
		log.WithFields(log.Fields{"udid": device.Properties.SerialNumber}).
			Info("no udid specified using first device in list")
		return device, nil
	}
	for _, device := range deviceList.DeviceList {
		if device.Properties.SerialNumber == udid {
			return device, nil
		}
	}
	return DeviceEntry{}, fmt.Errorf("Device '%s' not found. Is it attached to the machine?", udid)
}

// IOS17 is the first version without DeveloperDiskImage support
func IOS17() *semver.Version {
	return semver.MustParse("17.0")
}
