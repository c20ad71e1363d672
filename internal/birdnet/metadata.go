package birdnet

import "math"

// metadataVector builds BirdNET's 6-element location/week conditioning
// input: [lat, lon, week_cos, lat_mask, lon_mask, week_mask]. Week is given
// as an ISO week number in [1,48] (BirdNET clamps the year to 48 "weeks" of
// just over a week each); values outside that range mean "unknown" and are
// masked out rather than fed to the model as zero, which would otherwise be
// indistinguishable from a legitimate equatorial/prime-meridian location.
//
// Grounded on original_source's convertMetadata: week becomes
// cos(radians(week*7.5))+1 when valid, -1 (masked) otherwise; lat/lon are
// masked together since BirdNET treats "no location" as an atomic fact.
func metadataVector(lat, lon float64, week int) [6]float32 {
	var v [6]float32
	v[0] = float32(lat)
	v[1] = float32(lon)

	locationKnown := !(lat == -1 || lon == -1)
	weekKnown := week >= 1 && week <= 48

	if weekKnown {
		v[2] = float32(math.Cos(float64(week)*7.5*math.Pi/180) + 1)
	} else {
		v[2] = -1
	}

	if locationKnown {
		v[3], v[4] = 1, 1
	}
	if weekKnown {
		v[5] = 1
	}
	return v
}
