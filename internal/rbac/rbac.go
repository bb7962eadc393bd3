package rbac

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a project authorization level. Lower values carry more rights.
type Level int

type Action string

const (
	LevelAdmin  Level = 0
	LevelMember Level = 1
	LevelViewer Level = 2
	LevelNone   Level = 3
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionPush    Action = "push"
	ActionMerge   Action = "merge"
	ActionPromote Action = "promote"
)

func Can(level Level, action Action) bool {
	switch level {
	case LevelAdmin:
		return true
	case LevelMember:
		return action == ActionRead || action == ActionWrite || action == ActionPush
	case LevelViewer:
		return action == ActionRead
	default:
		return false
	}
}

func (l Level) String() string {
	switch l {
	case LevelAdmin:
		return "admin"
	case LevelMember:
		return "member"
	case LevelViewer:
		return "viewer"
	default:
		return "none"
	}
}

// Normalize maps any out-of-range level onto LevelNone.
func Normalize(level int) Level {
	switch Level(level) {
	case LevelAdmin, LevelMember, LevelViewer:
		return Level(level)
	default:
		return LevelNone
	}
}

// Parse accepts either the level name or its number.
func Parse(value string) (Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if n, err := strconv.Atoi(value); err == nil {
		if n < int(LevelAdmin) || n > int(LevelNone) {
			return LevelNone, fmt.Errorf("unknown level %q", value)
		}
		return Level(n), nil
	}
	switch value {
	case "admin":
		return LevelAdmin, nil
	case "member":
		return LevelMember, nil
	case "viewer":
		return LevelViewer, nil
	case "none":
		return LevelNone, nil
	default:
		return LevelNone, fmt.Errorf("unknown level %q", value)
	}
}
