package routeros

import (
	"fmt"
	"time"

	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

// ProbeResult is the metadata captured from a router at registration
// time.
type ProbeResult struct {
	Identity     string
	Model        string
	Version      string
	SerialNumber string
}

// Probe verifies that a router is reachable with the given credentials
// and reads its identity and resource tables. Used once, when a router
// is registered.
func Probe(dial Dialer, addr, username, password string, timeout time.Duration) (*ProbeResult, error) {
	conn, err := dial(addr, username, password, timeout)
	if err != nil {
		return nil, fault.External(fmt.Sprintf("router %s", addr), err)
	}
	defer conn.Close()

	identity, err := conn.Run(cmdIdentityPrint)
	if err != nil {
		return nil, fault.External(fmt.Sprintf("router %s", addr), err)
	}

	resource, err := conn.Run(cmdResourcePrint)
	if err != nil {
		return nil, fault.External(fmt.Sprintf("router %s", addr), err)
	}

	result := &ProbeResult{}
	if len(identity) > 0 {
		result.Identity = identity[0]["name"]
	}
	if len(resource) > 0 {
		result.Model = resource[0]["board-name"]
		result.Version = resource[0]["version"]
		result.SerialNumber = resource[0]["serial-number"]
	}

	return result, nil
}
