package canvas

// Color is a palette index as stored on chain.
type Color uint8

const (
	ColorWhite Color = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorBlue
	ColorYellow
	ColorOrange
	ColorPurple

	// ColorCount is one past the highest valid palette index.
	ColorCount
)

var colorNames = [ColorCount]string{
	"white", "black", "red", "green", "blue", "yellow", "orange", "purple",
}

var colorHex = [ColorCount]string{
	"#FFFFFF", "#000000", "#E53935", "#43A047", "#1E88E5", "#FDD835", "#FB8C00", "#8E24AA",
}

// Valid reports whether c is a defined palette index.
func (c Color) Valid() bool {
	return c < ColorCount
}

func (c Color) String() string {
	if !c.Valid() {
		return "invalid"
	}
	return colorNames[c]
}

// Hex returns the CSS color browsers render this palette index as.
func (c Color) Hex() string {
	if !c.Valid() {
		return colorHex[ColorBlack]
	}
	return colorHex[c]
}

// Palette lists the palette in index order for clients that render a picker.
func Palette() []string {
	return append([]string(nil), colorHex[:]...)
}
