package tui

// Key binding constants used in handleKey.
const (
	KeyMute      = "m"
	KeyEnd       = "e"
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
)
