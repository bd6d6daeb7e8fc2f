package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectDomain = "relay.example.com"

func mustParse(t *testing.T, input string) *Selection {
	t.Helper()
	sel, serr := ParseRoomSelection(input, testRedirectDomain)
	require.Nil(t, serr, "input %q", input)
	require.NotNil(t, sel)
	return sel
}

func TestParseRoomSelectionJoin(t *testing.T) {
	sel := mustParse(t, "12345")
	assert.Equal(t, SelectJoin, sel.Kind)
	assert.Equal(t, "12345", sel.ID)
}

func TestParseRoomSelectionStripsPrefixAndWhitespace(t *testing.T) {
	sel := mustParse(t, "  R 123 45 ")
	assert.Equal(t, SelectJoin, sel.Kind)
	assert.Equal(t, "12345", sel.ID)
}

func TestParseRoomSelectionEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, serr := ParseRoomSelection(input, testRedirectDomain)
		assert.NotNil(t, serr, "input %q", input)
	}
}

func TestParseRoomSelectionBarePrefix(t *testing.T) {
	_, serr := ParseRoomSelection("R", testRedirectDomain)
	assert.NotNil(t, serr)
}

func TestParseRoomSelectionEmojiRejected(t *testing.T) {
	_, serr := ParseRoomSelection("12\U0001F600", testRedirectDomain)
	assert.NotNil(t, serr)
}

func TestParseRoomSelectionRedirect(t *testing.T) {
	sel := mustParse(t, "RA7")
	assert.Equal(t, SelectRedirect, sel.Kind)
	assert.Equal(t, "A.relay.example.com/A7", sel.RedirectHost)
}

func TestParseRoomSelectionCreateAuto(t *testing.T) {
	for _, input := range []string{"new", "NEW", "New"} {
		sel := mustParse(t, input)
		assert.Equal(t, SelectCreateAuto, sel.Kind, "input %q", input)
		assert.False(t, sel.Mod)
	}
}

func TestParseRoomSelectionCreateMod(t *testing.T) {
	for _, input := range []string{"mod", "mods", "MODS"} {
		sel := mustParse(t, input)
		assert.Equal(t, SelectCreateAuto, sel.Kind, "input %q", input)
		assert.True(t, sel.Mod, "input %q", input)
	}
}

func TestParseRoomSelectionCustomPlayers(t *testing.T) {
	sel := mustParse(t, "newP10")
	assert.Equal(t, SelectCreateAuto, sel.Kind)
	assert.Equal(t, 10, sel.Custom.MaxPlayers)
	assert.True(t, sel.Custom.Customized())
}

func TestParseRoomSelectionCustomPlayersAndUnits(t *testing.T) {
	sel := mustParse(t, "modsP10,5000")
	assert.True(t, sel.Mod)
	assert.Equal(t, 10, sel.Custom.MaxPlayers)
	assert.Equal(t, 5000, sel.Custom.MaxUnits)
}

func TestParseRoomSelectionCustomFullwidthComma(t *testing.T) {
	sel := mustParse(t, "newP8，3000")
	assert.Equal(t, 8, sel.Custom.MaxPlayers)
	assert.Equal(t, 3000, sel.Custom.MaxUnits)
}

func TestParseRoomSelectionCustomUnitsWithIncome(t *testing.T) {
	sel := mustParse(t, "newP6,500I2.5")
	assert.Equal(t, 6, sel.Custom.MaxPlayers)
	assert.Equal(t, 500, sel.Custom.MaxUnits)
	assert.InDelta(t, 2.5, sel.Custom.Income, 0.0001)
}

func TestParseRoomSelectionCustomIncomeOnly(t *testing.T) {
	sel := mustParse(t, "newI3")
	assert.InDelta(t, 3.0, sel.Custom.Income, 0.0001)
	assert.True(t, sel.Custom.Customized())
	assert.False(t, sel.Custom.Announced())
}

func TestParseRoomSelectionCustomOutOfRange(t *testing.T) {
	for _, input := range []string{"newP101", "newP-1", "newI-1", "newP5,-3"} {
		_, serr := ParseRoomSelection(input, testRedirectDomain)
		assert.NotNil(t, serr, "input %q", input)
	}
}

func TestParseRoomSelectionCustomGarbage(t *testing.T) {
	for _, input := range []string{"newPx", "newIy", "newP5,abc"} {
		_, serr := ParseRoomSelection(input, testRedirectDomain)
		assert.NotNil(t, serr, "input %q", input)
	}
}

func TestParseRoomSelectionReserved(t *testing.T) {
	sel := mustParse(t, "Cxyz12")
	assert.Equal(t, SelectCreateReserved, sel.Kind)
	assert.Equal(t, "xyz12", sel.ID)
	assert.False(t, sel.Mod)
}

func TestParseRoomSelectionReservedMod(t *testing.T) {
	sel := mustParse(t, "CMxyz12")
	assert.Equal(t, SelectCreateReserved, sel.Kind)
	assert.Equal(t, "xyz12", sel.ID)
	assert.True(t, sel.Mod)
}

func TestParseRoomSelectionReservedLengthBounds(t *testing.T) {
	for _, input := range []string{"C", "Cxy", "Cxyz12345", "CM", "CMxy"} {
		_, serr := ParseRoomSelection(input, testRedirectDomain)
		assert.NotNil(t, serr, "input %q", input)
	}

	sel := mustParse(t, "Cxyz")
	assert.Equal(t, "xyz", sel.ID)
	sel = mustParse(t, "Cabcdefg")
	assert.Equal(t, "abcdefg", sel.ID)
}

func TestParseRoomSelectionReservedForbiddenShapes(t *testing.T) {
	// Dots collide with host syntax; A/B prefixes are kept for the relay.
	for _, input := range []string{"Cab.cd", "CAxyz", "CBxyz", "Caxyz", "Cbxyz"} {
		_, serr := ParseRoomSelection(input, testRedirectDomain)
		assert.NotNil(t, serr, "input %q", input)
	}
}

func TestParseRoomSelectionJoinDotForbidden(t *testing.T) {
	_, serr := ParseRoomSelection("12.45", testRedirectDomain)
	assert.NotNil(t, serr)
}

func TestParseRoomSelectionJoinIgnoresCustomParams(t *testing.T) {
	// P/I only apply on the creation path; a join id starting with a
	// digit never reaches the custom sub-grammar.
	sel := mustParse(t, "54321")
	assert.Equal(t, SelectJoin, sel.Kind)
	assert.False(t, sel.Custom.Customized())
}
