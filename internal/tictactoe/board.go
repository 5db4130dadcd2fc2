package tictactoe

type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Opponent returns the other player's symbol. Empty has no opponent.
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

// Outcome is the result of a board: no result yet, a winning symbol, or a draw.
type Outcome string

const (
	None Outcome = ""
	WinX Outcome = "X"
	WinO Outcome = "O"
	Draw Outcome = "DRAW"
)

func (o Outcome) Terminal() bool {
	return o != None
}

const Cells = 9

type Board [Cells]Symbol

var lines = [8][3]int{
	// rows
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	// columns
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	// diagonals
	{0, 4, 8}, {2, 4, 6},
}

func EmptyBoard() Board {
	return Board{}
}

func ValidIndex(i int) bool {
	return i >= 0 && i < Cells
}

func (b Board) Full() bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

// WinnerOf reports the symbol owning a complete line, Draw for a full board
// with no line, and None otherwise.
func WinnerOf(b Board) Outcome {
	for _, l := range lines {
		a := b[l[0]]
		if a != Empty && a == b[l[1]] && a == b[l[2]] {
			return Outcome(a)
		}
	}
	if b.Full() {
		return Draw
	}
	return None
}

// Slice returns the board as a slice, the shape clients expect.
func (b Board) Slice() []Symbol {
	out := make([]Symbol, Cells)
	copy(out, b[:])
	return out
}
