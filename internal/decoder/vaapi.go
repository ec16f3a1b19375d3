package decoder

import "github.com/kino-av/kino/media"

// NewVAAPIBackend returns the VA-API backend, the generic Linux hardware
// path covering Intel and Mesa drivers. Availability is probed by loading
// libva and resolving the display and config entry points.
func NewVAAPIBackend() Backend {
	return newHardwareBackend(
		"vaapi",
		"KINO_LIBVA_PATH",
		"libva.so.2",
		[]string{
			"vaInitialize",
			"vaTerminate",
			"vaQueryConfigProfiles",
			"vaCreateConfig",
			"vaCreateSurfaces",
		},
		map[media.Codec]CodecLimit{
			media.CodecH264: {MaxWidth: 4096, MaxHeight: 4096},
			media.CodecH265: {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecVP9:  {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecAV1:  {MaxWidth: 8192, MaxHeight: 8192},
		},
	)
}
