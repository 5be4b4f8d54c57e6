package tools

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bt-bridge/consult-live/shared"
)

const pcmMIMEPrefix = "audio/pcm"

// Blob is one base64 PCM payload as carried on the wire.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// PCMMIMEType returns "audio/pcm;rate=<rate>".
func PCMMIMEType(rate int) string {
	return pcmMIMEPrefix + ";rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the rate parameter of a PCM MIME type. ok is false when
// the type is not PCM or carries no rate.
func ParseRate(mimeType string) (rate int, ok bool) {
	parts := strings.Split(mimeType, ";")
	if strings.TrimSpace(strings.ToLower(parts[0])) != pcmMIMEPrefix {
		return 0, false
	}
	for _, p := range parts[1:] {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || strings.ToLower(k) != "rate" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Out of range samples are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		var n int16
		if v < 0 {
			n = int16(v * 32768)
		} else {
			n = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(n))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 length %d", shared.ErrInvalidBlob, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out, nil
}

// CreateBlob encodes one captured frame for transmission.
func CreateBlob(samples []float32, rate int) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}

// DecodeBlob decodes a received PCM blob. A blob without a rate parameter is
// assumed to be at defaultRate.
func DecodeBlob(b Blob, defaultRate int) (samples []float32, rate int, err error) {
	rate = defaultRate
	if b.MIMEType != "" {
		r, ok := ParseRate(b.MIMEType)
		switch {
		case ok:
			rate = r
		case !strings.HasPrefix(strings.ToLower(b.MIMEType), pcmMIMEPrefix):
			return nil, 0, fmt.Errorf("%w: unsupported type %q", shared.ErrInvalidBlob, b.MIMEType)
		}
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w: unknown sample rate", shared.ErrInvalidBlob)
	}
	if b.Data == "" {
		return nil, 0, fmt.Errorf("%w: empty payload", shared.ErrInvalidBlob)
	}
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", shared.ErrInvalidBlob, err)
	}
	samples, err = DecodePCM16(raw)
	if err != nil {
		return nil, 0, err
	}
	return samples, rate, nil
}

// ResampleFloat32 converts mono samples from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return the input unchanged.
func ResampleFloat32(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
