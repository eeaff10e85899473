// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	img.Set(3, 3, color.RGBA{R: 255, A: 255})

	data, err := provider.EncodeJPEG(img)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	url := provider.DataURL(data)
	require.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestEncodeJPEG_Nil(t *testing.T) {
	_, err := provider.EncodeJPEG(nil)
	assert.True(t, reelerr.IsInvalidInput(err))
}
