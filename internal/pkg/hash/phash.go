package hash

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"net/http"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/go-kratos/kratos/v2/errors"
	_ "golang.org/x/image/webp"
)

// MinDimension is the smallest accepted width and height in pixels.
const MinDimension = 50

// DefaultMaxPixels caps width*height of an image before it is decoded.
const DefaultMaxPixels = 40_000_000

// maxFetchBytes caps an in-memory thumbnail download.
const maxFetchBytes = 8 << 20

// ErrInvalidImage is returned for undecodable or undersized images. It is the
// only error of the pipeline that reaches the caller as a hard failure.
var ErrInvalidImage = errors.BadRequest("INVALID_IMAGE", "image is undecodable or outside the accepted dimensions")

// HashType represents the type of perceptual hash.
type HashType int

const (
	// PHash uses DCT-based perceptual hash (most accurate).
	PHash HashType = iota
	// AHash uses average hash (fastest).
	AHash
	// DHash uses difference hash (good balance).
	DHash
)

func (t HashType) String() string {
	switch t {
	case PHash:
		return "pHash"
	case AHash:
		return "aHash"
	case DHash:
		return "dHash"
	default:
		return "unknown"
	}
}

// Fingerprint identifies one image: a content-addressed hash of its bytes and
// the three 64-bit perceptual hashes.
type Fingerprint struct {
	ContentHash string `json:"content_hash,omitempty"`
	PHash       uint64 `json:"phash"`
	DHash       uint64 `json:"dhash"`
	AHash       uint64 `json:"ahash"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Distances holds per-kind Hamming distances between two fingerprints.
type Distances struct {
	PHash int `json:"phash"`
	DHash int `json:"dhash"`
	AHash int `json:"ahash"`
	Max   int `json:"max"`
}

// PerceptualHasher computes fingerprints. It holds no mutable state and is safe
// for concurrent use.
type PerceptualHasher struct {
	httpClient *http.Client
	userAgent  string
	maxPixels  int64
}

// Option configures a PerceptualHasher.
type Option func(*PerceptualHasher)

// WithMaxPixels sets the largest accepted width*height. Non-positive values
// keep DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(ph *PerceptualHasher) {
		if n > 0 {
			ph.maxPixels = n
		}
	}
}

// NewPerceptualHasher creates a new PerceptualHasher.
func NewPerceptualHasher(opts ...Option) *PerceptualHasher {
	ph := &PerceptualHasher{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: "Mozilla/5.0 (compatible; leakdetector/1.0)",
		maxPixels: DefaultMaxPixels,
	}
	for _, o := range opts {
		o(ph)
	}
	return ph
}

// MaxPixels returns the largest accepted width*height.
func (ph *PerceptualHasher) MaxPixels() int64 {
	return ph.maxPixels
}

// checkDimensions rejects images below MinDimension or above the pixel cap.
func (ph *PerceptualHasher) checkDimensions(width, height int) error {
	if width < MinDimension || height < MinDimension {
		return ErrInvalidImage.WithCause(fmt.Errorf("image is %dx%d, minimum is %dx%d", width, height, MinDimension, MinDimension))
	}
	if int64(width)*int64(height) > ph.maxPixels {
		return ErrInvalidImage.WithCause(fmt.Errorf("image is %dx%d, more than %d pixels", width, height, ph.maxPixels))
	}
	return nil
}

// Fingerprint decodes data and computes its content and perceptual hashes.
func (ph *PerceptualHasher) Fingerprint(data []byte) (*Fingerprint, error) {
	fp, err := ph.fingerprintReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	fp.ContentHash = ContentHash(data)
	return fp, nil
}

// FingerprintImage computes the perceptual hashes of an already decoded image.
// ContentHash is left empty.
func (ph *PerceptualHasher) FingerprintImage(img image.Image) (*Fingerprint, error) {
	b := img.Bounds()
	if err := ph.checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	rgb := toRGB(img)

	p, err := goimagehash.PerceptionHash(rgb)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pHash: %w", err)
	}
	d, err := goimagehash.DifferenceHash(rgb)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dHash: %w", err)
	}
	a, err := goimagehash.AverageHash(rgb)
	if err != nil {
		return nil, fmt.Errorf("failed to compute aHash: %w", err)
	}
	return &Fingerprint{
		PHash:  p.GetHash(),
		DHash:  d.GetHash(),
		AHash:  a.GetHash(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// FingerprintURL fetches an image into memory and fingerprints it. The body is
// never written to disk and the buffer does not outlive the call.
func (ph *PerceptualHasher) FingerprintURL(ctx context.Context, url string) (*Fingerprint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", ph.userAgent)

	resp, err := ph.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return ph.Fingerprint(data)
}

func (ph *PerceptualHasher) fingerprintReader(r io.ReadSeeker) (*Fingerprint, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, ErrInvalidImage.WithCause(fmt.Errorf("failed to decode image header: %w", err))
	}
	if err := ph.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, ErrInvalidImage.WithCause(fmt.Errorf("failed to decode image: %w", err))
	}
	return ph.FingerprintImage(img)
}

// toRGB converts any color model to opaque RGBA so palette, gray, CMYK and
// alpha inputs hash the same way. Alpha is dropped, not composited.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// HammingDistance calculates the Hamming distance between two hashes.
// Returns the number of different bits (0 = identical images).
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Compare returns the per-kind distances between two fingerprints.
func Compare(a, b *Fingerprint) Distances {
	d := Distances{
		PHash: HammingDistance(a.PHash, b.PHash),
		DHash: HammingDistance(a.DHash, b.DHash),
		AHash: HammingDistance(a.AHash, b.AHash),
	}
	d.Max = max(d.PHash, d.DHash, d.AHash)
	return d
}

// Distance returns the distance for a single hash kind.
func Distance(a, b *Fingerprint, t HashType) int {
	switch t {
	case DHash:
		return HammingDistance(a.DHash, b.DHash)
	case AHash:
		return HammingDistance(a.AHash, b.AHash)
	default:
		return HammingDistance(a.PHash, b.PHash)
	}
}

// String returns a hex representation of the three perceptual hashes.
func (f *Fingerprint) String() string {
	return fmt.Sprintf("p:%016x d:%016x a:%016x", f.PHash, f.DHash, f.AHash)
}
