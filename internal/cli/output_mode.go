package cli

import "github.com/ProhibitedTV/ChoomLang/internal/format"

func (a *app) tableMode() format.Mode {
	if a.markdown {
		return format.Markdown
	}
	return format.ASCII
}
