package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 canvas. Each is filled with the side's color.
var glyphShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5.5"/>
<path d="M15 36 L30 36 L27 21 L18 21 Z"/>`,
	nchess.Rook: `<path d="M12 36 L33 36 L33 32 L30 32 L30 18 L33 18 L33 12 L29 12 L29 15 L26 15 L26 12 L19 12 L19 15 L16 15 L16 12 L12 12 L12 18 L15 18 L15 32 L12 32 Z"/>`,
	nchess.Knight: `<path d="M14 38 L34 38 C34 29 32 22 28 16 L26 11 L23 14 L19 15 L13 21 L14 25 L19 23 C20 26 18 30 14 33 Z"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="9" r="3"/>
<path d="M16 34 C16 28 18 20 22.5 13 C27 20 29 28 29 34 Z"/>`,
	nchess.Queen: `<path d="M10 32 L13 14 L18 26 L22.5 11 L27 26 L32 14 L35 32 Z"/>
<circle cx="13" cy="12" r="2.5"/><circle cx="22.5" cy="9" r="2.5"/><circle cx="32" cy="12" r="2.5"/>`,
	nchess.King: `<path d="M21 6 L24 6 L24 10 L28 10 L28 13 L24 13 L24 17 L21 17 L21 13 L17 13 L17 10 L21 10 Z"/>
<path d="M13 34 C11 26 16 20 22.5 18 C29 20 34 26 32 34 Z"/>`,
}

const glyphBase = `<rect x="11" y="36" width="23" height="4" rx="1"/>`

type glyphKey struct {
	piece nchess.Piece
	size  int
}

var (
	glyphCache   = map[glyphKey]image.Image{}
	glyphCacheMu sync.RWMutex
)

func glyphSVG(piece nchess.Piece) ([]byte, error) {
	shape, ok := glyphShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no glyph for piece %v", piece)
	}
	fill, stroke := "#f8f6f0", "#1e1e1e"
	if piece.Color() == nchess.Black {
		fill, stroke = "#262421", "#e8e4da"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">
%s
%s
</g>
</svg>`, fill, stroke, shape, glyphBase)
	return []byte(svg), nil
}

func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := glyphKey{piece: piece, size: size}
	glyphCacheMu.RLock()
	if img, ok := glyphCache[key]; ok {
		glyphCacheMu.RUnlock()
		return img, nil
	}
	glyphCacheMu.RUnlock()

	data, err := glyphSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse glyph svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	glyphCacheMu.Lock()
	glyphCache[key] = img
	glyphCacheMu.Unlock()
	return img, nil
}
