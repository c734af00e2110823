package gamesession

import (
	"github.com/Congyuwang/wuziqi/internal/board"
	"github.com/Congyuwang/wuziqi/internal/protocol"
)

// wireCell converts a board.Cell to its wire representation.
func wireCell(c board.Cell) protocol.Cell {
	switch c {
	case board.BlackStone:
		return protocol.CellBlack
	case board.WhiteStone:
		return protocol.CellWhite
	default:
		return protocol.CellEmpty
	}
}

func wireFieldState(s board.FieldState) protocol.FieldState {
	cells := make([][]protocol.Cell, board.Size)
	for x := 0; x < board.Size; x++ {
		row := make([]protocol.Cell, board.Size)
		for y := 0; y < board.Size; y++ {
			row[y] = wireCell(s.Cells[x][y])
		}
		cells[x] = row
	}
	return protocol.FieldState{
		Cells:     cells,
		ToMove:    s.ToMove.String(),
		MoveCount: s.MoveCount,
	}
}

func wireFieldStateNullable(s board.FieldStateNullable) protocol.FieldStateNullable {
	cells := make([][]protocol.Cell, board.Size)
	for x := 0; x < board.Size; x++ {
		row := make([]protocol.Cell, board.Size)
		for y := 0; y < board.Size; y++ {
			row[y] = wireCell(s.Cells[x][y])
		}
		cells[x] = row
	}
	out := protocol.FieldStateNullable{
		Cells:     cells,
		ToMove:    s.ToMove.String(),
		MoveCount: s.MoveCount,
	}
	if s.Cleared != nil {
		out.Cleared = &protocol.Pos{X: s.Cleared.X, Y: s.Cleared.Y}
	}
	return out
}
