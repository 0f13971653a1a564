package preview

import (
	"image"

	"github.com/fogleman/fauxgl"
	"github.com/nfnt/resize"
)

// ViewConfig frames a snapshot.
type ViewConfig struct {
	// LookAt is the point the camera looks at.
	LookAt [3]float64
	// Up is the camera up direction.
	Up [3]float64
	// EyePos is the camera position.
	EyePos [3]float64
	Near   float64
	Far    float64
}

const (
	snapshotWidth  = 800
	snapshotHeight = 600
	snapshotScale  = 2 // supersampling factor
	snapshotFOVY   = 30
)

// RenderSTL rasterizes a binary STL file with a Phong shader. The mesh
// is fit to a bi-unit cube first, so only relative geometry matters.
func RenderSTL(stlPath string, view ViewConfig) (image.Image, error) {
	mesh, err := fauxgl.LoadSTL(stlPath)
	if err != nil {
		return nil, err
	}
	var (
		eye    = fauxgl.V(view.EyePos[0], view.EyePos[1], view.EyePos[2])
		center = fauxgl.V(view.LookAt[0], view.LookAt[1], view.LookAt[2])
		up     = fauxgl.V(view.Up[0], view.Up[1], view.Up[2])
		light  = fauxgl.V(-0.75, 1, 0.25).Normalize()
		color  = fauxgl.HexColor("#468966")
	)
	mesh.BiUnitCube()
	context := fauxgl.NewContext(snapshotWidth*snapshotScale, snapshotHeight*snapshotScale)
	context.ClearColorBufferWith(fauxgl.HexColor("#FFF8E3"))
	aspect := float64(snapshotWidth) / float64(snapshotHeight)
	matrix := fauxgl.LookAt(eye, center, up).Perspective(snapshotFOVY, aspect, view.Near, view.Far)
	shader := fauxgl.NewPhongShader(matrix, light, eye)
	shader.ObjectColor = color
	context.Shader = shader
	context.DrawMesh(mesh)
	// Downsample for antialiasing.
	return resize.Resize(snapshotWidth, snapshotHeight, context.Image(), resize.Bilinear), nil
}

// SnapshotSTL renders an STL file to a PNG at pngPath.
func SnapshotSTL(stlPath, pngPath string, view ViewConfig) error {
	img, err := RenderSTL(stlPath, view)
	if err != nil {
		return err
	}
	return fauxgl.SavePNG(pngPath, img)
}
