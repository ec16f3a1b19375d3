package decoder

import "github.com/kino-av/kino/media"

// NewAMFBackend returns the AMD AMF backend. Availability is probed by
// loading the AMF runtime and resolving its init entry points.
func NewAMFBackend() Backend {
	return newHardwareBackend(
		"amf",
		"KINO_AMF_PATH",
		"libamfrt64.so.1",
		[]string{
			"AMFQueryVersion",
			"AMFInit",
		},
		map[media.Codec]CodecLimit{
			media.CodecH264: {MaxWidth: 4096, MaxHeight: 4096},
			media.CodecH265: {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecVP9:  {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecAV1:  {MaxWidth: 8192, MaxHeight: 8192},
		},
	)
}
