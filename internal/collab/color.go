package collab

import (
	"math"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// ColorFor derives a participant color from the first UTF-16 code unit of the
// user id: hue = code * 137.5 mod 360 at fixed saturation and lightness.
func ColorFor(userID string) string {
	code := 0
	if userID != "" {
		first, _ := utf8.DecodeRuneInString(userID)
		code = int(utf16.Encode([]rune{first})[0])
	}
	hue := math.Mod(float64(code)*137.5, 360)
	return "hsl(" + strconv.FormatFloat(hue, 'f', -1, 64) + ", 70%, 60%)"
}
