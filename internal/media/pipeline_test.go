package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/storage/memory"
)

func testSpecs() []VariantSpec {
	return []VariantSpec{
		{Key: "thumb", Width: 16, Quality: 80},
		{Key: "preview", Width: 32, Quality: 85},
		{Key: "original", Width: 0, Quality: 90},
	}
}

func testImagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 0x40, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_ProcessStoresAllVariants(t *testing.T) {
	t.Parallel()

	source := testImagePNG(t)
	srv := imageServer(t, source)
	store := memory.NewBlobStore()

	p := New(store, Config{Specs: testSpecs()}, nil)
	variants, err := p.Process(context.Background(), srv.URL+"/cover.png", "covers", "one-piece")

	require.NoError(t, err)
	require.Len(t, variants, 3)
	require.Equal(t, 3, store.Len())

	byKey := make(map[string]Variant, len(variants))
	for _, v := range variants {
		byKey[v.Key] = v
	}
	require.Equal(t, "memory://covers/one-piece_thumb.jpg", byKey["thumb"].URL)
	require.Equal(t, "memory://covers/one-piece_preview.jpg", byKey["preview"].URL)
	require.Equal(t, "memory://covers/one-piece_original.jpg", byKey["original"].URL)

	// The original variant is the untouched source stream.
	data, ok := store.Get("covers/one-piece_original.jpg")
	require.True(t, ok)
	require.Equal(t, source, data)

	// Resized variants decode to the requested width with aspect kept.
	data, ok = store.Get("covers/one-piece_thumb.jpg")
	require.True(t, ok)
	thumb, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 16, thumb.Bounds().Dx())
	require.Equal(t, 12, thumb.Bounds().Dy())
}

type failingStore struct {
	inner *memory.BlobStore
	match string
}

func (f *failingStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if f.match == "" || strings.Contains(key, f.match) {
		io.Copy(io.Discard, r)
		return "", errors.New("upload rejected")
	}
	return f.inner.Put(ctx, key, contentType, r)
}

func TestPipeline_PartialFailureKeepsSurvivors(t *testing.T) {
	t.Parallel()

	srv := imageServer(t, testImagePNG(t))
	store := &failingStore{inner: memory.NewBlobStore(), match: "_preview"}

	p := New(store, Config{Specs: testSpecs()}, nil)
	variants, err := p.Process(context.Background(), srv.URL+"/cover.png", "covers", "berserk")

	require.NoError(t, err)
	require.Len(t, variants, 2)
	for _, v := range variants {
		require.NotEqual(t, "preview", v.Key)
	}
	require.Equal(t, 2, store.inner.Len())
}

func TestPipeline_AllVariantsFailedRejects(t *testing.T) {
	t.Parallel()

	srv := imageServer(t, testImagePNG(t))
	store := &failingStore{inner: memory.NewBlobStore()}

	p := New(store, Config{Specs: testSpecs()}, nil)
	variants, err := p.Process(context.Background(), srv.URL+"/cover.png", "covers", "berserk")

	require.Error(t, err)
	require.Contains(t, err.Error(), "variants failed")
	require.Nil(t, variants)
}

func TestPipeline_SourceErrorFailsEverything(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	store := memory.NewBlobStore()

	p := New(store, Config{Specs: testSpecs()}, nil)
	variants, err := p.Process(context.Background(), srv.URL+"/gone.png", "covers", "berserk")

	require.Error(t, err)
	require.Nil(t, variants)
	require.Zero(t, store.Len())
}
