package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/cheese-arena/internal/domain"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrMalformedMove = errors.New("malformed move")
	ErrIllegalMove   = errors.New("illegal move")
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Board is a game replayed from the start position. Move history is kept so
// repetition claims can be evaluated.
type Board struct {
	game *nchess.Game
}

type Applied struct {
	UCI string
	SAN string
	FEN string
}

// Replay rebuilds a board by applying UCI moves from the start position.
func Replay(movesUCI []string) (*Board, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range movesUCI {
		move, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(mv)))
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", mv, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv, err)
		}
	}
	return &Board{game: game}, nil
}

func (b *Board) FEN() string { return b.game.FEN() }

func (b *Board) Turn() domain.Color {
	if b.game.Position().Turn() == nchess.Black {
		return domain.Black
	}
	return domain.White
}

// LegalMoves lists the legal moves of the side to move in UCI.
func (b *Board) LegalMoves() []string {
	valid := b.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, mv.String())
	}
	return out
}

// Validate checks a UCI move against the current position without playing it.
func (b *Board) Validate(uci string) error {
	_, _, err := b.decode(uci)
	return err
}

func (b *Board) decode(uci string) (*nchess.Move, string, error) {
	token := strings.ToLower(strings.TrimSpace(uci))
	if len(token) < 4 || len(token) > 5 {
		return nil, token, fmt.Errorf("%w: %q", ErrMalformedMove, uci)
	}
	move, err := nchess.UCINotation{}.Decode(b.game.Position(), token)
	if err != nil {
		return nil, token, fmt.Errorf("%w: %q", ErrMalformedMove, uci)
	}
	if !b.isLegal(move.String()) {
		return nil, token, fmt.Errorf("%w: %s", ErrIllegalMove, token)
	}
	return move, token, nil
}

// Apply plays a UCI move. The board is unchanged when an error is returned.
func (b *Board) Apply(uci string) (Applied, error) {
	pos := b.game.Position()
	move, token, err := b.decode(uci)
	if err != nil {
		return Applied{}, err
	}
	if err := b.game.Move(move, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, token)
	}
	played := move
	if moves := b.game.Moves(); len(moves) > 0 {
		played = moves[len(moves)-1]
	}
	return Applied{
		UCI: token,
		SAN: nchess.AlgebraicNotation{}.Encode(pos, played),
		FEN: b.game.FEN(),
	}, nil
}

func (b *Board) isLegal(uci string) bool {
	for _, legal := range b.LegalMoves() {
		if legal == uci {
			return true
		}
	}
	return false
}

// Terminal reports whether the position ends the game. Checks run in a fixed
// order: checkmate, stalemate, insufficient material, threefold repetition,
// fifty-move rule.
func (b *Board) Terminal() (domain.Termination, domain.Result, bool) {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return domain.Checkmate, domain.ResultWhiteWin, true
	case nchess.BlackWon:
		return domain.Checkmate, domain.ResultBlackWin, true
	case nchess.Draw:
		switch b.game.Method() {
		case nchess.Stalemate:
			return domain.Stalemate, domain.ResultDraw, true
		case nchess.InsufficientMaterial:
			return domain.InsufficientMaterial, domain.ResultDraw, true
		case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
			return domain.ThreefoldRepetition, domain.ResultDraw, true
		case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
			return domain.FiftyMoveRule, domain.ResultDraw, true
		}
	}

	var repetition, fiftyMove bool
	for _, method := range b.game.EligibleDraws() {
		switch method {
		case nchess.ThreefoldRepetition:
			repetition = true
		case nchess.FiftyMoveRule:
			fiftyMove = true
		}
	}
	switch {
	case repetition:
		return domain.ThreefoldRepetition, domain.ResultDraw, true
	case fiftyMove:
		return domain.FiftyMoveRule, domain.ResultDraw, true
	}
	return "", "", false
}

// Opening returns the ECO code and title of the longest matching book line.
func (b *Board) Opening() (string, string) {
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return "", ""
	}
	if eco := ecoBook.Find(b.game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}

// BoardMap returns the pieces of a FEN position keyed by square.
func BoardMap(fen string) (map[nchess.Square]nchess.Piece, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(opt).Position().Board().SquareMap(), nil
}
