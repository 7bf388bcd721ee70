package arrange

import (
	"fmt"
	"strings"
)

// Difficulty selects how aggressively an arrangement is simplified
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// Difficulties lists the accepted levels, easiest first
var Difficulties = []Difficulty{Beginner, Intermediate, Advanced}

// ParseDifficulty accepts a level name case-insensitively
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Beginner, Intermediate, Advanced:
		return d, nil
	case "":
		return Beginner, nil
	}
	return "", fmt.Errorf("unknown difficulty %q (want beginner, intermediate or advanced)", s)
}

func (d Difficulty) String() string {
	return string(d)
}
