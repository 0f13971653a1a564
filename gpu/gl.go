package gpu

import (
	"errors"
	"fmt"

	"github.com/go-gl/gl/all-core/gl"
)

// GL implements Device over an already initialized OpenGL context.
// gl.Init must have been called and a context made current on the
// calling goroutine before any method is used.
type GL struct{}

var _ Device = GL{}

func (GL) CreateBuffer(data []byte) (Buffer, error) {
	var id uint32
	gl.GenBuffers(1, &id)
	if id == 0 {
		return Buffer{}, errors.New("gpu: glGenBuffers returned 0")
	}
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, id)
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, len(data), gl.Ptr(data), gl.DYNAMIC_DRAW)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
	if err := glErr("CreateBuffer"); err != nil {
		gl.DeleteBuffers(1, &id)
		return Buffer{}, err
	}
	return Buffer{ID: id, Size: len(data)}, nil
}

func (GL) UpdateBuffer(b Buffer, data []byte) error {
	if len(data) > b.Size {
		return errBufferTooSmall
	}
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, b.ID)
	gl.BufferSubData(gl.SHADER_STORAGE_BUFFER, 0, len(data), gl.Ptr(data))
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
	return glErr("UpdateBuffer")
}

func (GL) DeleteBuffer(b Buffer) {
	if b.ID == 0 {
		return
	}
	gl.DeleteBuffers(1, &b.ID)
}

func (GL) BindBufferBase(slot uint32, b Buffer) {
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, slot, b.ID)
}

func (GL) CreateTexture3D(desc Texture3DDesc, data []byte) (Texture, error) {
	if want := desc.Width * desc.Height * desc.Depth * 4; len(data) != want {
		return Texture{}, fmt.Errorf("gpu: texture data is %d bytes, want %d", len(data), want)
	}
	var id uint32
	gl.GenTextures(1, &id)
	if id == 0 {
		return Texture{}, errors.New("gpu: glGenTextures returned 0")
	}
	gl.BindTexture(gl.TEXTURE_3D, id)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_R, gl.CLAMP_TO_EDGE)
	var internal int32
	var format, xtype uint32
	switch desc.Format {
	case FormatR32F:
		internal, format, xtype = gl.R32F, gl.RED, gl.FLOAT
	case FormatR32I:
		internal, format, xtype = gl.R32I, gl.RED_INTEGER, gl.INT
	default:
		gl.DeleteTextures(1, &id)
		return Texture{}, fmt.Errorf("gpu: unknown texture format %d", desc.Format)
	}
	gl.TexImage3D(gl.TEXTURE_3D, 0, internal,
		int32(desc.Width), int32(desc.Height), int32(desc.Depth),
		0, format, xtype, gl.Ptr(data))
	gl.BindTexture(gl.TEXTURE_3D, 0)
	if err := glErr("CreateTexture3D"); err != nil {
		gl.DeleteTextures(1, &id)
		return Texture{}, err
	}
	return Texture{ID: id, Width: desc.Width, Height: desc.Height, Depth: desc.Depth}, nil
}

func (GL) DeleteTexture(t Texture) {
	if t.ID == 0 {
		return
	}
	gl.DeleteTextures(1, &t.ID)
}

func (GL) BindTexture3D(unit uint32, t Texture) {
	gl.ActiveTexture(gl.TEXTURE0 + unit)
	gl.BindTexture(gl.TEXTURE_3D, t.ID)
}

func glErr(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gpu: %s failed with GL error 0x%04x", op, code)
	}
	return nil
}
