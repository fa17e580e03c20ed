package model

// Channel identifies one measured air-quality quantity.
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelCO2         Channel = "co2"
	ChannelVOC         Channel = "voc"
)

// Channels lists every channel in evaluation order.
var Channels = []Channel{ChannelTemperature, ChannelHumidity, ChannelCO2, ChannelVOC}

// Range is the plausible band for a channel; values outside it are
// treated as a sensor fault, not as data.
type Range struct {
	Min  float64
	Max  float64
	Unit string
}

// plausibleRanges follows the AHT10 and CCS811 datasheet limits.
var plausibleRanges = map[Channel]Range{
	ChannelTemperature: {Min: -40, Max: 85, Unit: "°C"},
	ChannelHumidity:    {Min: 0, Max: 100, Unit: "%RH"},
	ChannelCO2:         {Min: 400, Max: 8000, Unit: "ppm"},
	ChannelVOC:         {Min: 0, Max: 32768, Unit: "ppb"},
}

// PlausibleRange returns the valid band for ch.
func (ch Channel) PlausibleRange() Range {
	return plausibleRanges[ch]
}

// Plausible reports whether v lies inside the channel's valid band.
func (ch Channel) Plausible(v float64) bool {
	r := plausibleRanges[ch]
	return v >= r.Min && v <= r.Max
}

// Unit returns the display unit for ch.
func (ch Channel) Unit() string {
	return plausibleRanges[ch].Unit
}
