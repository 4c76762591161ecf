// Package render draws board positions as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-arena/internal/rules"
)

const (
	DefaultSize = 480
	minSize     = 160
	maxSize     = 1024
	margin      = 20
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	frameColor     = color.RGBA{40, 42, 54, 255}
	highlightFill  = color.RGBA{255, 228, 120, 140}
	coordTextColor = color.RGBA{220, 222, 232, 255}
)

type Options struct {
	// Size is the edge of the square output in pixels.
	Size int
	// Flip draws the board from black's side.
	Flip bool
	// LastMove is a UCI move whose squares are highlighted.
	LastMove string
}

// RenderPNG draws the position described by fen.
func RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	pieces, err := rules.BoardMap(fen)
	if err != nil {
		return nil, err
	}
	size := opts.Size
	switch {
	case size <= 0:
		size = DefaultSize
	case size < minSize:
		size = minSize
	case size > maxSize:
		size = maxSize
	}
	square := (size - 2*margin) / 8
	origin := image.Point{X: (size - 8*square) / 2, Y: (size - 8*square) / 2}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, draw.Src)

	highlighted := map[nchess.Square]bool{}
	if from, to, ok := parseSquares(opts.LastMove); ok {
		highlighted[from] = true
		highlighted[to] = true
	}

	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sq := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			rect := squareRect(file, rank, square, origin, opts.Flip)
			draw.Draw(img, rect, image.NewUniform(squareColor(file, rank)), image.Point{}, draw.Src)
			if highlighted[sq] {
				draw.Draw(img, rect, image.NewUniform(highlightFill), image.Point{}, draw.Over)
			}
			piece, ok := pieces[sq]
			if !ok || piece == nchess.NoPiece {
				continue
			}
			glyph, err := pieceImage(piece, square)
			if err != nil {
				return nil, err
			}
			draw.Draw(img, rect, glyph, image.Point{}, draw.Over)
		}
	}
	drawCoordinates(img, square, origin, opts.Flip)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func squareRect(file, rank, square int, origin image.Point, flip bool) image.Rectangle {
	col, row := file, 7-rank
	if flip {
		col, row = 7-file, rank
	}
	x := origin.X + col*square
	y := origin.Y + row*square
	return image.Rect(x, y, x+square, y+square)
}

func squareColor(file, rank int) color.Color {
	if (file+rank)%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

// parseSquares reads the from and to squares of a UCI move.
func parseSquares(uci string) (nchess.Square, nchess.Square, bool) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return 0, 0, false
	}
	from, ok1 := parseSquare(uci[0:2])
	to, ok2 := parseSquare(uci[2:4])
	return from, to, ok1 && ok2
}

func parseSquare(s string) (nchess.Square, bool) {
	f, r := int(s[0]-'a'), int(s[1]-'1')
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(f), nchess.Rank(r)), true
}

func drawCoordinates(dst draw.Image, square int, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(coordTextColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	boardEnd := origin.Y + 8*square

	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		label := string(rune('a' + file))
		width := drawer.MeasureString(label).Round()
		drawer.Dot = fixed.P(origin.X+i*square+(square-width)/2, boardEnd+(margin+ascent)/2)
		drawer.DrawString(label)

		label = string(rune('1' + rank))
		width = drawer.MeasureString(label).Round()
		drawer.Dot = fixed.P(origin.X/2-width/2, origin.Y+i*square+(square+ascent)/2)
		drawer.DrawString(label)
	}
}
