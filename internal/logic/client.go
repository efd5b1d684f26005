package logic

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/imghost/abuseguard/internal/geoip"
	"github.com/imghost/abuseguard/internal/models"
)

// ResolveClientFromUA parses a raw User-Agent string into device, browser and
// bot information using uasurfer.
func ResolveClientFromUA(uaString string) models.ClientContext {
	u := uasurfer.Parse(uaString)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	bv := u.Browser.Version
	return models.ClientContext{
		DeviceType: deviceType,
		Browser:    fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch),
		IsBot:      u.IsBot(),
	}
}

// ResolveClient combines the UA string and IP address into a ClientContext.
func ResolveClient(g *geoip.GeoIP, uaString, ipString string) models.ClientContext {
	ctx := ResolveClientFromUA(uaString)
	ctx.IP = ipString
	if ip := net.ParseIP(ipString); ip != nil && g != nil {
		ctx.Country = g.Country(ip)
	}
	return ctx
}

// ClientIP extracts the caller's address from r. The first X-Forwarded-For
// entry is used only when trustProxy is set, since the header is client
// controlled and would otherwise let callers pick their own rate-limit key.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if idx := strings.Index(fwd, ","); idx != -1 {
				fwd = fwd[:idx]
			}
			if ip := net.ParseIP(strings.TrimSpace(fwd)); ip != nil {
				return ip.String()
			}
		}
	}
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return addr
}

// ResolveClientFromRequest builds the ClientContext for an inbound request.
func ResolveClientFromRequest(r *http.Request, g *geoip.GeoIP, trustProxy bool) models.ClientContext {
	return ResolveClient(g, r.UserAgent(), ClientIP(r, trustProxy))
}
