package gpu

import "fmt"

// NullDevice implements Device entirely in host memory. It exists for
// headless runs and tests: uploads keep their byte payloads so callers
// can inspect what would have reached the GPU, and bindings are
// recorded per slot.
type NullDevice struct {
	nextID   uint32
	buffers  map[uint32][]byte
	textures map[uint32]Texture3DDesc
	// Bound maps SSBO binding slots to buffer IDs.
	Bound map[uint32]uint32
	// BoundTextures maps texture units to texture IDs.
	BoundTextures map[uint32]uint32
	// FailNext makes the next allocation return an error, for testing
	// degradation paths.
	FailNext bool
}

var _ Device = (*NullDevice)(nil)

// NewNullDevice returns an empty in-memory device.
func NewNullDevice() *NullDevice {
	return &NullDevice{
		buffers:       make(map[uint32][]byte),
		textures:      make(map[uint32]Texture3DDesc),
		Bound:         make(map[uint32]uint32),
		BoundTextures: make(map[uint32]uint32),
	}
}

func (d *NullDevice) fail() bool {
	if d.FailNext {
		d.FailNext = false
		return true
	}
	return false
}

func (d *NullDevice) CreateBuffer(data []byte) (Buffer, error) {
	if d.fail() {
		return Buffer{}, fmt.Errorf("gpu: null device allocation failure")
	}
	d.nextID++
	cp := make([]byte, len(data))
	copy(cp, data)
	d.buffers[d.nextID] = cp
	return Buffer{ID: d.nextID, Size: len(data)}, nil
}

func (d *NullDevice) UpdateBuffer(b Buffer, data []byte) error {
	if d.fail() {
		return fmt.Errorf("gpu: null device update failure")
	}
	stored, ok := d.buffers[b.ID]
	if !ok {
		return fmt.Errorf("gpu: update of unknown buffer %d", b.ID)
	}
	if len(data) > len(stored) {
		return errBufferTooSmall
	}
	copy(stored, data)
	return nil
}

func (d *NullDevice) DeleteBuffer(b Buffer) {
	delete(d.buffers, b.ID)
}

func (d *NullDevice) BindBufferBase(slot uint32, b Buffer) {
	d.Bound[slot] = b.ID
}

func (d *NullDevice) CreateTexture3D(desc Texture3DDesc, data []byte) (Texture, error) {
	if d.fail() {
		return Texture{}, fmt.Errorf("gpu: null device allocation failure")
	}
	if want := desc.Width * desc.Height * desc.Depth * 4; len(data) != want {
		return Texture{}, fmt.Errorf("gpu: texture data is %d bytes, want %d", len(data), want)
	}
	d.nextID++
	d.textures[d.nextID] = desc
	return Texture{ID: d.nextID, Width: desc.Width, Height: desc.Height, Depth: desc.Depth}, nil
}

func (d *NullDevice) DeleteTexture(t Texture) {
	delete(d.textures, t.ID)
}

func (d *NullDevice) BindTexture3D(unit uint32, t Texture) {
	d.BoundTextures[unit] = t.ID
}

// BufferData returns the current contents of a live buffer, or nil.
func (d *NullDevice) BufferData(b Buffer) []byte { return d.buffers[b.ID] }

// LiveBuffers returns the number of undeleted buffers.
func (d *NullDevice) LiveBuffers() int { return len(d.buffers) }

// LiveTextures returns the number of undeleted textures.
func (d *NullDevice) LiveTextures() int { return len(d.textures) }
