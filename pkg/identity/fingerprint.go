package identity

import (
	"fmt"
	"net"
	"strings"

	"adaptive-proxy/pkg/models"
)

// NoIP stands in for the address of an interface without IPv4.
const NoIP = "NoIP"

const defaultRouteProbe = "1.1.1.1:53"

// InterfaceFingerprinter identifies the network by the interface that routes
// to the internet: its name, hardware address and IPv4 address.
type InterfaceFingerprinter struct {
	// RouteProbe is the UDP address used to find the outbound interface. No
	// packet is sent. Defaults to 1.1.1.1:53.
	RouteProbe string
}

type interfaceInfo struct {
	Name         string
	HardwareAddr string
	Addrs        []net.IP
}

func (f InterfaceFingerprinter) Fingerprint() (models.NetworkIdentity, error) {
	probe := f.RouteProbe
	if probe == "" {
		probe = defaultRouteProbe
	}

	// connecting a UDP socket only selects a route
	conn, err := net.Dial("udp", probe)
	if err != nil {
		return models.NetworkIdentity{}, fmt.Errorf("no route to %s: %w", probe, err)
	}
	local := conn.LocalAddr().(*net.UDPAddr).IP
	conn.Close()

	infos, err := listInterfaces()
	if err != nil {
		return models.NetworkIdentity{}, err
	}
	return fingerprintFor(local, infos)
}

func listInterfaces() ([]interfaceInfo, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	infos := make([]interfaceInfo, 0, len(interfaces))
	for _, intf := range interfaces {
		info := interfaceInfo{Name: intf.Name, HardwareAddr: intf.HardwareAddr.String()}
		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				info.Addrs = append(info.Addrs, ipnet.IP)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func fingerprintFor(local net.IP, infos []interfaceInfo) (models.NetworkIdentity, error) {
	for _, info := range infos {
		for _, addr := range info.Addrs {
			if !addr.Equal(local) {
				continue
			}
			ip := NoIP
			for _, a := range info.Addrs {
				if v4 := a.To4(); v4 != nil {
					ip = v4.String()
					break
				}
			}
			return models.NewNetworkIdentity(sanitize(info.Name), sanitize(info.HardwareAddr), ip)
		}
	}
	return models.NetworkIdentity{}, fmt.Errorf("no interface owns local address %s", local)
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, models.IdentityDelimiter, "_")
}

// StaticFingerprinter always reports the same identity.
type StaticFingerprinter struct {
	Identity models.NetworkIdentity
}

func (f StaticFingerprinter) Fingerprint() (models.NetworkIdentity, error) {
	if f.Identity.IsZero() {
		return models.NetworkIdentity{}, fmt.Errorf("static identity is empty")
	}
	return f.Identity, nil
}
