package tournament

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level is a per-tournament access level. Numeric order is the only
// comparison between levels.
type Level int

const (
	LevelNone   Level = 0
	LevelViewer Level = 1
	LevelEditor Level = 2
	LevelOwner  Level = 3
)

var levelNames = map[Level]string{
	LevelViewer: "viewer",
	LevelEditor: "editor",
	LevelOwner:  "owner",
}

var errUnknownLevel = errors.New("unknown permission level")

// ParseLevel parses viewer, editor or owner.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return LevelViewer, nil
	case "editor":
		return LevelEditor, nil
	case "owner":
		return LevelOwner, nil
	}
	return LevelNone, fmt.Errorf("%w: %q", errUnknownLevel, s)
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return ""
}

// Valid reports whether l is one of the three grantable levels.
func (l Level) Valid() bool { return l >= LevelViewer && l <= LevelOwner }

// AtLeast reports whether l satisfies required.
func (l Level) AtLeast(required Level) bool { return l >= required }

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AccessControl is the tournament-wide visibility flag.
type AccessControl string

const (
	AccessOpen       AccessControl = "open"
	AccessRestricted AccessControl = "restricted"
)

// Tournament is the subset of tournament state the sharing layer reads.
type Tournament struct {
	ID            int64         `json:"id"`
	ClientID      int64         `json:"clientId"`
	Name          string        `json:"name"`
	AccessControl AccessControl `json:"accessControl"`
	CreatedBy     *int64        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Grant is an explicit (tournament, user) ACL row.
type Grant struct {
	TournamentID  int64     `json:"tournamentId"`
	UserID        int64     `json:"userId"`
	Level         Level     `json:"permissionLevel"`
	GrantedBy     *int64    `json:"grantedBy"`
	GrantedAt     time.Time `json:"grantedAt"`
	UserName      string    `json:"userName,omitempty"`
	UserEmail     string    `json:"userEmail,omitempty"`
	GrantedByName string    `json:"grantedByName,omitempty"`
}

// Summary is a tournament visible to a user with the levels that apply.
type Summary struct {
	Tournament
	Level     Level `json:"permissionLevel"`
	Effective Level `json:"effectivePermission"`
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed   bool  `json:"hasAccess"`
	Level     Level `json:"permissionLevel"`
	Effective Level `json:"effectiveLevel"`
	Open      bool  `json:"open"`
}
