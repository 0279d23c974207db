// Package imageio loads and saves still images as gocv Mats.
package imageio

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Load decodes the image at path, applies its EXIF orientation and returns
// it as a BGR Mat.
func Load(path string) (gocv.Mat, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("could not decode image %s: %w", path, err)
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("could not convert image %s: %w", path, err)
	}
	return mat, nil
}

// Save encodes mat to path. The format follows the file extension.
func Save(path string, mat gocv.Mat) error {
	img, err := mat.ToImage()
	if err != nil {
		return fmt.Errorf("could not convert frame: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".bmp") {
		return saveBMP(path, img)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("could not save %s: %w", path, err)
	}
	return nil
}

func saveBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("could not encode %s: %w", path, err)
	}
	return f.Close()
}
