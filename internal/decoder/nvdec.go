package decoder

import "github.com/kino-av/kino/media"

// NewNVDECBackend returns the NVIDIA NVDEC backend. Availability is probed by
// loading libnvcuvid and resolving the CUVID decode entry points.
func NewNVDECBackend() Backend {
	return newHardwareBackend(
		"nvdec",
		"KINO_NVCUVID_PATH",
		"libnvcuvid.so.1",
		[]string{
			"cuvidCreateVideoParser",
			"cuvidParseVideoData",
			"cuvidCreateDecoder",
			"cuvidDecodePicture",
			"cuvidMapVideoFrame64",
		},
		map[media.Codec]CodecLimit{
			media.CodecH264: {MaxWidth: 4096, MaxHeight: 4096},
			media.CodecH265: {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecVP9:  {MaxWidth: 8192, MaxHeight: 8192},
			media.CodecAV1:  {MaxWidth: 8192, MaxHeight: 8192},
		},
	)
}
