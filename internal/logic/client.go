package logic

import (
	"fmt"

	"github.com/avct/uasurfer"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/geoip"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// ClientContext is what the service knows about the requesting client from
// its user agent and IP address.
type ClientContext struct {
	DeviceType string
	OS         string
	Browser    string
	IsBot      bool
	Country    string
	Region     string
}

// ResolveClientFromUA parses a raw User-Agent string with uasurfer.
func ResolveClientFromUA(uaString string) ClientContext {
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

	v := u.OS.Version
	osName := fmt.Sprintf("%s %s %d.%d.%d", u.OS.Platform.String(), u.OS.Name.String(), v.Major, v.Minor, v.Patch)
	bv := u.Browser.Version
	browser := fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch)

	return ClientContext{
		DeviceType: deviceType,
		OS:         osName,
		Browser:    browser,
		IsBot:      u.IsBot(),
	}
}

// ResolveClientContext combines the user agent with a geo lookup of ip.
// A nil GeoIP leaves the location fields empty.
func ResolveClientContext(g *geoip.GeoIP, uaString, ip string) ClientContext {
	c := ResolveClientFromUA(uaString)
	loc := g.Lookup(ip)
	c.Country = loc.Country
	c.Region = loc.Region
	return c
}

// Metadata merges the resolved client fields into the caller-supplied
// metadata. Caller values win on key collisions.
func (c ClientContext) Metadata(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+3)
	if c.DeviceType != "" {
		out[models.MetaDeviceType] = c.DeviceType
	}
	if c.Country != "" {
		out[models.MetaCountry] = c.Country
	}
	if c.Region != "" {
		out[models.MetaRegion] = c.Region
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
