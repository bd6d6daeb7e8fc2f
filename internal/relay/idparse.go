package relay

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Room-selection grammar. The client types a free-text string; an ordered
// list of prefix rules decides what it means. The first matching rule wins
// and later prefixes are never re-checked against the stripped remainder.

// SelectionKind is what the parsed selection asks the relay to do.
type SelectionKind int

const (
	// SelectRedirect points the client at another relay host.
	SelectRedirect SelectionKind = iota
	// SelectJoin joins an existing room by exact id.
	SelectJoin
	// SelectCreateReserved creates a room with a caller-chosen id.
	SelectCreateReserved
	// SelectCreateAuto creates a room with a generated id.
	SelectCreateAuto
)

// CustomSettings carries the P/I sub-grammar values applied to a newly
// created room. Zero-value sentinels mirror the game defaults.
type CustomSettings struct {
	MaxPlayers int
	MaxUnits   int
	Income     float32
}

// DefaultCustomSettings returns the untouched sentinel values.
func DefaultCustomSettings() CustomSettings {
	return CustomSettings{MaxPlayers: -1, MaxUnits: 200, Income: 1}
}

// Customized reports whether the player limit or income was set explicitly.
func (c CustomSettings) Customized() bool {
	return c.MaxPlayers != -1 || c.Income != 1
}

// Announced reports whether the accepted values are echoed to the creator.
func (c CustomSettings) Announced() bool {
	return c.MaxPlayers != -1 || c.MaxUnits != 200
}

// Selection is one successfully parsed room-selection string.
type Selection struct {
	Kind SelectionKind

	// ID is the join target or the reserved id to create.
	ID string

	// RedirectHost is set for SelectRedirect.
	RedirectHost string

	// Mod marks mod-enabled room creation.
	Mod bool

	Custom CustomSettings
}

// SelectionError carries the localized message reported back to the
// client. The connection stays open for another attempt.
type SelectionError struct {
	Message string
}

func (e *SelectionError) Error() string {
	return e.Message
}

func selectionErrorf(format string, args ...interface{}) *SelectionError {
	return &SelectionError{Message: fmt.Sprintf(format, args...)}
}

// ParseRoomSelection applies the grammar to the raw client input.
// redirectDomain feeds RA redirects.
func ParseRoomSelection(input, redirectDomain string) (*Selection, *SelectionError) {
	id := stripWhitespace(input)

	if id == "" {
		return nil, &SelectionError{Message: msgEmptySelection}
	}
	if containsEmoji(id) {
		return nil, &SelectionError{Message: msgEmojiSelection}
	}

	// RA must win over the generic R prefix.
	if strings.HasPrefix(id, "RA") {
		rest := id[1:]
		host := fmt.Sprintf("%c.%s/%s", rest[0], redirectDomain, rest)
		return &Selection{Kind: SelectRedirect, RedirectHost: host}, nil
	}

	if len(id) > 0 && (id[0] == 'R' || id[0] == 'r') {
		id = id[1:]
		if id == "" {
			return nil, &SelectionError{Message: msgNoSuchRoom("R")}
		}
	}

	if id[0] == 'C' || id[0] == 'c' {
		return parseReservedID(id[1:])
	}

	mod := false
	newRoom := true
	switch {
	case hasPrefixFold(id, "new"):
		id = id[3:]
	case hasPrefixFold(id, "mods"):
		mod = true
		id = id[4:]
	case hasPrefixFold(id, "mod"):
		mod = true
		id = id[3:]
	default:
		newRoom = false
	}

	if newRoom {
		custom, serr := parseCustomSettings(id)
		if serr != nil {
			return nil, serr
		}
		return &Selection{Kind: SelectCreateAuto, Mod: mod, Custom: custom}, nil
	}

	if strings.Contains(id, ".") {
		return nil, &SelectionError{Message: msgDotForbidden()}
	}
	return &Selection{Kind: SelectJoin, ID: id, Custom: DefaultCustomSettings()}, nil
}

// parseReservedID handles the C / CM reserved-id creation path. The id has
// already had its C stripped.
func parseReservedID(id string) (*Selection, *SelectionError) {
	if id == "" {
		return nil, &SelectionError{Message: msgReservedIDRetry}
	}

	mod := false
	if id[0] == 'M' || id[0] == 'm' {
		mod = true
		id = id[1:]
	}

	if len(id) < 3 || len(id) > 7 {
		return nil, &SelectionError{Message: msgReservedIDRetry}
	}
	if strings.Contains(id, ".") {
		return nil, &SelectionError{Message: msgDotForbidden()}
	}
	if hasPrefixFold(id, "A") || hasPrefixFold(id, "B") {
		return nil, &SelectionError{Message: msgReservedIDRetry}
	}

	return &Selection{
		Kind:   SelectCreateReserved,
		ID:     id,
		Mod:    mod,
		Custom: DefaultCustomSettings(),
	}, nil
}

// parseCustomSettings consumes the optional P and I parameter groups from
// whatever remains after prefix stripping on a creation path.
func parseCustomSettings(id string) (CustomSettings, *SelectionError) {
	custom := DefaultCustomSettings()

	if len(id) > 0 && (id[0] == 'P' || id[0] == 'p') {
		parts := splitList(id[1:])

		maxPlayers, err := strconv.Atoi(parts[0])
		if err != nil {
			return custom, selectionErrorf("%s", msgSelectionError(err.Error()))
		}
		if maxPlayers < 0 || maxPlayers > 100 {
			return custom, &SelectionError{Message: msgMaxPlayersRange}
		}
		custom.MaxPlayers = maxPlayers

		if len(parts) > 1 {
			if serr := parseUnitsToken(parts[1], &custom); serr != nil {
				return custom, serr
			}
		}
		return custom, nil
	}

	if len(id) > 0 && (id[0] == 'I' || id[0] == 'i') {
		parts := splitList(id[1:])

		income, err := strconv.ParseFloat(parts[0], 32)
		if err != nil {
			return custom, selectionErrorf("%s", msgSelectionError(err.Error()))
		}
		if income < 0 {
			return custom, &SelectionError{Message: msgIncomeRange}
		}
		custom.Income = float32(income)
		return custom, nil
	}

	return custom, nil
}

// parseUnitsToken parses the second P list element: either a unit cap, an
// I<income> suffix, or <units>I<income>.
func parseUnitsToken(token string, custom *CustomSettings) *SelectionError {
	if idx := strings.IndexAny(token, "Ii"); idx >= 0 {
		unitPart := token[:idx]
		incomePart := token[idx+1:]

		if unitPart != "" {
			units, err := strconv.Atoi(unitPart)
			if err != nil {
				return selectionErrorf("%s", msgSelectionError(err.Error()))
			}
			custom.MaxUnits = units
		}
		income, err := strconv.ParseFloat(incomePart, 32)
		if err != nil {
			return selectionErrorf("%s", msgSelectionError(err.Error()))
		}
		custom.Income = float32(income)
	} else {
		units, err := strconv.Atoi(token)
		if err != nil {
			return selectionErrorf("%s", msgSelectionError(err.Error()))
		}
		custom.MaxUnits = units
	}

	if custom.MaxUnits < 0 {
		return &SelectionError{Message: msgMaxUnitsRange}
	}
	return nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// splitList splits on both the ASCII and the fullwidth comma, the way
// clients with CJK input methods actually type the parameter list.
func splitList(s string) []string {
	if strings.Contains(s, "，") {
		return strings.Split(s, "，")
	}
	return strings.Split(s, ",")
}

// hasPrefixFold is a case-insensitive strings.HasPrefix.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// containsEmoji reports emoji in the selection string. Detection covers
// the unicode blocks game clients can actually produce; a full emoji
// database is not worth the dependency for an id filter.
func containsEmoji(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x1F300 && r <= 0x1FAFF, // pictographs, transport, supplemental
			r >= 0x2600 && r <= 0x27BF, // misc symbols, dingbats
			r >= 0xFE00 && r <= 0xFE0F, // variation selectors
			r == 0x200D:                // zero-width joiner
			return true
		}
	}
	return false
}
