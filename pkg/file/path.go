package file

import "strings"

// SafeName turns an identifier such as a table id or period into a file name
// component. Path separators and spaces become '-'.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "-", ":", "-")
	name = replacer.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
