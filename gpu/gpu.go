// Package gpu is a thin device abstraction over the OpenGL calls the
// acceleration structures need: shader storage buffers for node and
// index arrays and 3D textures for voxel data. The interface exists so
// upload logic can be exercised against a fake device in tests while
// production code binds the GL implementation.
package gpu

import "errors"

// Buffer is an opaque device buffer handle.
type Buffer struct {
	ID   uint32
	Size int
}

// Texture is an opaque device texture handle.
type Texture struct {
	ID                   uint32
	Width, Height, Depth int
}

// TextureFormat selects the texel type of a 3D texture.
type TextureFormat int

const (
	// FormatR32F is a single float32 channel.
	FormatR32F TextureFormat = iota
	// FormatR32I is a single int32 channel.
	FormatR32I
)

// Texture3DDesc describes a 3D texture allocation.
type Texture3DDesc struct {
	Width, Height, Depth int
	Format               TextureFormat
}

// Device is the subset of a graphics API used for uploads. All methods
// must be called from the thread owning the GL context.
type Device interface {
	// CreateBuffer allocates a shader storage buffer holding data.
	CreateBuffer(data []byte) (Buffer, error)
	// UpdateBuffer replaces the buffer contents. The new data may not
	// exceed the original allocation.
	UpdateBuffer(b Buffer, data []byte) error
	// DeleteBuffer releases the buffer. Deleting a zero handle is a no-op.
	DeleteBuffer(b Buffer)
	// BindBufferBase binds the buffer to a shader storage binding slot.
	BindBufferBase(slot uint32, b Buffer)

	// CreateTexture3D allocates and fills a 3D texture. data length must
	// be Width*Height*Depth texels of the described format, encoded
	// little endian 4 bytes per texel.
	CreateTexture3D(desc Texture3DDesc, data []byte) (Texture, error)
	// DeleteTexture releases the texture. Zero handles are ignored.
	DeleteTexture(t Texture)
	// BindTexture3D binds the texture to a texture image unit.
	BindTexture3D(unit uint32, t Texture)
}

var errBufferTooSmall = errors.New("gpu: update exceeds buffer allocation")
