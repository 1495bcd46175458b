package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode_Formats(t *testing.T) {
	src := testImage(8, 6)

	var jpg, gf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, nil))
	require.NoError(t, gif.Encode(&gf, src, nil))

	tests := []struct {
		name   string
		raw    []byte
		format string
	}{
		{name: "png", raw: encodePNG(t, src), format: "png"},
		{name: "jpeg", raw: jpg.Bytes(), format: "jpeg"},
		{name: "gif", raw: gf.Bytes(), format: "gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(base64.StdEncoding.EncodeToString(tt.raw), 0)
			require.NoError(t, err)

			assert.Equal(t, tt.format, img.Format)
			assert.Equal(t, 8, img.Width)
			assert.Equal(t, 6, img.Height)
			assert.Equal(t, MIMEType, img.MIMEType)

			_, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
		})
	}
}

func TestDecode_DataURIAndWhitespace(t *testing.T) {
	raw := encodePNG(t, testImage(4, 4))
	enc := base64.StdEncoding.EncodeToString(raw)

	img, err := Decode("data:image/png;base64,"+enc, 0)
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)

	wrapped := enc[:10] + "\n" + enc[10:20] + "\r\n " + enc[20:]
	_, err = Decode(wrapped, 0)
	require.NoError(t, err)

	_, err = Decode(base64.RawStdEncoding.EncodeToString(raw), 0)
	require.NoError(t, err)
}

func TestDecode_TransparencyBecomesWhite(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img, err := DecodeBytes(encodePNG(t, src))
	require.NoError(t, err)

	r, g, b, a := img.Pixels.At(0, 0).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})
}

func TestDecode_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Decode("  ", 0)
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := Decode("not*base64!", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid base64")
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := Decode(base64.StdEncoding.EncodeToString([]byte("hello world")), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized image")
	})

	t.Run("too large", func(t *testing.T) {
		raw := encodePNG(t, testImage(16, 16))
		_, err := Decode(base64.StdEncoding.EncodeToString(raw), 10)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("truncated", func(t *testing.T) {
		raw := encodePNG(t, testImage(16, 16))
		_, err := DecodeBytes(raw[:len(raw)/2])
		assert.Error(t, err)
	})
}
