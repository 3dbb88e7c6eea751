package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNMSSuppressesOverlapsPerClass(t *testing.T) {
	dets := []Detection{
		{ClassID: 1, Confidence: 0.6, BBox: [4]float32{0, 0, 100, 100}},
		{ClassID: 1, Confidence: 0.9, BBox: [4]float32{5, 5, 105, 105}},
		{ClassID: 0, Confidence: 0.8, BBox: [4]float32{5, 5, 105, 105}},
		{ClassID: 1, Confidence: 0.4, BBox: [4]float32{300, 300, 350, 350}},
	}

	got := nms(dets, 0.5)
	require.Len(t, got, 3)
	assert.Equal(t, float32(0.9), got[0].Confidence)
	assert.Equal(t, 0, got[1].ClassID)
	assert.Equal(t, float32(0.4), got[2].Confidence)
}

func TestIoU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.InDelta(t, 0.0, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestLetterboxMapsBackToSource(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	size := 640
	buf := make([]float32, 3*size*size)

	lb := letterboxInto(buf, img, size)
	assert.InDelta(t, 0.5, lb.scale, 1e-6)
	assert.Equal(t, float32(0), lb.padX)
	assert.Equal(t, float32(140), lb.padY)

	x, y := lb.toSource(320, 320)
	assert.InDelta(t, 640, x, 1e-3)
	assert.InDelta(t, 360, y, 1e-3)

	// padding rows keep the letterbox grey
	assert.Equal(t, padValue, buf[0])
	// image rows are black
	assert.Equal(t, float32(0), buf[200*size+10])
}

func TestDecodeYOLOv8(t *testing.T) {
	const anchors, numClasses = 3, 2
	out := make([]float32, (4+numClasses)*anchors)
	set := func(anchor int, cx, cy, w, h, s0, s1 float32) {
		vals := []float32{cx, cy, w, h, s0, s1}
		for c, v := range vals {
			out[c*anchors+anchor] = v
		}
	}
	set(0, 100, 100, 20, 20, 0.9, 0.1)
	set(1, 200, 200, 40, 40, 0.1, 0.7)
	set(2, 300, 300, 40, 40, 0.05, 0.1)

	lb := newLetterbox(image.Rect(0, 0, 640, 640), 640)

	all := decodeYOLOv8(out, numClasses, anchors, lb, 0.25, nil)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].ClassID)
	assert.Equal(t, [4]float32{90, 90, 110, 110}, all[0].BBox)

	violence := decodeYOLOv8(out, numClasses, anchors, lb, 0.25, classFilter([]int{1}))
	require.Len(t, violence, 1)
	assert.Equal(t, 1, violence[0].ClassID)
	assert.Equal(t, float32(0.7), violence[0].Confidence)
	assert.Equal(t, [4]float32{180, 180, 220, 220}, violence[0].BBox)
}

func TestLabelFor(t *testing.T) {
	names := []string{"non_violence", "violence"}
	assert.Equal(t, "violence", labelFor(names, 1))
	assert.Equal(t, "class_7", labelFor(names, 7))
}

func TestBoxRendererDrawsOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	r := NewBoxRenderer()

	r.Render(img, []Detection{{ClassID: 1, Label: "violence", Confidence: 0.3, BBox: [4]float32{50, 60, 150, 160}}})

	edge := img.RGBAAt(100, 158)
	assert.Equal(t, classColors[1], edge)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(100, 110), "box interior stays untouched")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(5, 5))
}

func TestBoxRendererClipsOutOfBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	assert.NotPanics(t, func() {
		NewBoxRenderer().Render(img, []Detection{
			{ClassID: 1, Label: "violence", Confidence: 0.9, BBox: [4]float32{-10, -10, 80, 80}},
			{ClassID: 1, Label: "violence", Confidence: 0.9, BBox: [4]float32{100, 100, 120, 120}},
		})
	})
}
