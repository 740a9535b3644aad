package device

import "strings"

// filename-hostile characters mapped to visually similar, safe runes
// so titles stay readable on FAT and exFAT media.
var sanitizer = strings.NewReplacer(
	"/", "⧸", // big solidus
	"\\", "⧹", // big reverse solidus
	":", "꞉", // modifier letter colon
	"*", "⁎", // low asterisk
	"?", "？", // fullwidth question mark
	"\"", "″", // double prime
	"<", "‹", // single left angle quote
	">", "›", // single right angle quote
	"|", "｜", // fullwidth vertical line
	"\x00", "_",
)

// SanitizeFilename makes a display name safe to use as a file or
// directory name on any target filesystem.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(sanitizer.Replace(name))
}
