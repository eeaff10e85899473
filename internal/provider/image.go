// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// JPEGQuality is used for frames sent to vision models.
const JPEGQuality = 85

// EncodeJPEG encodes a frame for upload to a vision model.
func EncodeJPEG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, reelerr.New(reelerr.CodeProviderRequestInvalid, "nil frame image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid, "encoding frame as jpeg")
	}
	return buf.Bytes(), nil
}

// DataURL renders JPEG bytes as a base64 data URL.
func DataURL(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}
