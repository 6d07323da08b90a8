package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Color palette
var (
	// Primary accent color
	AccentTeal = tcell.NewRGBColor(13, 148, 136) // #0D9488

	// Neutral colors
	SurfaceDark  = tcell.NewRGBColor(40, 40, 40)    // #282828
	NeutralLight = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	// Status colors
	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6
)

// Symbols and icons
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
)
