package west

import (
	"bufio"
	"context"
	"strings"
)

// Board represents a parsed board entry from `west boards`.
type Board struct {
	Name         string
	Architecture string
	Qualifiers   string
}

// ListBoards runs `west boards` through exec and parses the output.
func ListBoards(ctx context.Context, exec ExecFunc) ([]Board, error) {
	res, err := exec(ctx, "west", "boards")
	if err != nil {
		return nil, err
	}
	return parseBoards(res.Output), nil
}

func parseBoards(output string) []Board {
	var boards []Board
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Common format: board_name
		// Some versions: board_name  arch  qualifiers
		fields := strings.Fields(line)
		b := Board{Name: fields[0]}
		if len(fields) > 1 {
			b.Architecture = fields[1]
		}
		if len(fields) > 2 {
			b.Qualifiers = strings.Join(fields[2:], " ")
		}
		boards = append(boards, b)
	}
	return boards
}
