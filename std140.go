package diffusevol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/soypat/glgl/math/ms3"
)

// Layout of the volume parameter uniform block under std140 rules.
//
//	offset  0: int   bindless_index_offset
//	offset  4: int   num_volumes
//	offset  8: uvec2 fallback_volume_fp16
//	offset 16: vec3  sky_color_lo
//	offset 32: vec3  sky_color_hi
//	offset 48: DiffuseVolumeParameters volumes[MaxVolumes], 96 byte stride
//
// Each volume is three vec4 transform rows, vec4 world_lo, vec4 world_hi
// and four floats: lo/hi texture x clamp, guard band factor and sharpen.
const (
	std140VolumesOffset = 48
	Std140VolumeStride  = 96
	// Std140Size is the size in bytes of the encoded parameter block.
	Std140Size = std140VolumesOffset + MaxVolumes*Std140VolumeStride
)

var errShortStd140 = errors.New("std140 parameter buffer too short")

// AppendStd140 appends the std140 encoding of the parameter set to dst and
// returns the result. Exactly Std140Size bytes are appended; unused volume
// slots are zero.
func (p *Parameters) AppendStd140(dst []byte) ([]byte, error) {
	err := p.Validate()
	if err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, Std140Size)...)
	b := dst[start:]
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(int32(p.BindlessIndexOffset)))
	le.PutUint32(b[4:], uint32(int32(len(p.Volumes))))
	le.PutUint32(b[8:], p.FallbackFP16[0])
	le.PutUint32(b[12:], p.FallbackFP16[1])
	putVec3(b[16:], p.SkyColorLo, 0)
	putVec3(b[32:], p.SkyColorHi, 0)
	for i := range p.Volumes {
		v := &p.Volumes[i]
		vb := b[std140VolumesOffset+i*Std140VolumeStride:]
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				putFloat(vb[16*row+4*col:], v.WorldToTexture[row][col])
			}
		}
		putVec3(vb[48:], v.WorldLo, 0)
		putVec3(vb[64:], v.WorldHi, 0)
		putFloat(vb[80:], v.LoTexCoordX)
		putFloat(vb[84:], v.HiTexCoordX)
		putFloat(vb[88:], v.GuardBandFactor)
		putFloat(vb[92:], v.GuardBandSharpen)
	}
	return dst, nil
}

// DecodeStd140 decodes a parameter block produced by AppendStd140.
func DecodeStd140(b []byte) (Parameters, error) {
	if len(b) < Std140Size {
		return Parameters{}, fmt.Errorf("%w: got %d bytes, want %d", errShortStd140, len(b), Std140Size)
	}
	le := binary.LittleEndian
	n := int(int32(le.Uint32(b[4:])))
	if n < 0 || n > MaxVolumes {
		return Parameters{}, fmt.Errorf("%w: encoded count %d", ErrTooManyVolumes, n)
	}
	p := Parameters{
		BindlessIndexOffset: int(int32(le.Uint32(b[0:]))),
		FallbackFP16:        [2]uint32{le.Uint32(b[8:]), le.Uint32(b[12:])},
		SkyColorLo:          getVec3(b[16:]),
		SkyColorHi:          getVec3(b[32:]),
		Volumes:             make([]Volume, n),
	}
	for i := range p.Volumes {
		v := &p.Volumes[i]
		vb := b[std140VolumesOffset+i*Std140VolumeStride:]
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				v.WorldToTexture[row][col] = getFloat(vb[16*row+4*col:])
			}
		}
		v.WorldLo = getVec3(vb[48:])
		v.WorldHi = getVec3(vb[64:])
		v.LoTexCoordX = getFloat(vb[80:])
		v.HiTexCoordX = getFloat(vb[84:])
		v.GuardBandFactor = getFloat(vb[88:])
		v.GuardBandSharpen = getFloat(vb[92:])
	}
	return p, p.Validate()
}

func putFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// putVec3 writes v as a vec4 with w as the fourth component.
func putVec3(b []byte, v ms3.Vec, w float32) {
	putFloat(b[0:], v.X)
	putFloat(b[4:], v.Y)
	putFloat(b[8:], v.Z)
	putFloat(b[12:], w)
}

func getVec3(b []byte) ms3.Vec {
	return ms3.Vec{X: getFloat(b[0:]), Y: getFloat(b[4:]), Z: getFloat(b[8:])}
}
