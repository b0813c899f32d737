package sshconn

import (
	"context"
	"errors"
	"fmt"

	plist "howett.net/plist"
)

const systemVersionPlist = "/System/Library/CoreServices/SystemVersion.plist"

type systemVersion struct {
	ProductName         string
	ProductVersion      string
	ProductBuildVersion string
}

// ProductVersion reads the iOS version, f.ex. 16.4.1, from the device.
func (c *Client) ProductVersion(ctx context.Context) (string, error) {
	data, err := c.Output(ctx, "cat "+systemVersionPlist)
	if err != nil {
		return "", fmt.Errorf("sshconn: reading %s: %w", systemVersionPlist, err)
	}
	return ParseSystemVersion(data)
}

// ParseSystemVersion extracts ProductVersion from SystemVersion.plist in any plist format.
func ParseSystemVersion(data []byte) (string, error) {
	var v systemVersion
	if _, err := plist.Unmarshal(data, &v); err != nil {
		return "", err
	}
	if v.ProductVersion == "" {
		return "", errors.New("sshconn: SystemVersion.plist has no ProductVersion")
	}
	return v.ProductVersion, nil
}
