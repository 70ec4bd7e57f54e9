package rendertrigger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRender_TriggersOnShortBody(t *testing.T) {
	assert.True(t, ShouldRender([]byte("<html><body>short</body></html>")))
}

func TestShouldRender_TriggersOnEmptySPAShell(t *testing.T) {
	body := padded(`<html><body><div id="app"></div></body></html>`)
	assert.True(t, ShouldRender([]byte(body)))
}

func TestShouldRender_TriggersOnMetaRefresh(t *testing.T) {
	body := padded(`<html><head><meta http-equiv="refresh" content="0;url=/next"></head><body>` + strings.Repeat("x", 300) + `</body></html>`)
	assert.True(t, ShouldRender([]byte(body)))
}

func TestShouldRender_TriggersOnThinText(t *testing.T) {
	body := padded(`<html><body><p>tiny</p></body></html>`)
	assert.True(t, ShouldRender([]byte(body)))
}

func TestShouldRender_FalseForSubstantialStaticPage(t *testing.T) {
	body := padded(`<html><body><article>` + strings.Repeat("real content here. ", 40) + `</article></body></html>`)
	assert.False(t, ShouldRender([]byte(body)))
}

func TestShouldRender_IgnoresPopulatedAppDiv(t *testing.T) {
	body := padded(`<html><body><div id="app"><p>` + strings.Repeat("server rendered content. ", 30) + `</p></div></body></html>`)
	assert.False(t, ShouldRender([]byte(body)))
}

// padded pads short fixtures past the minimum body-byte threshold with an
// HTML comment so the length check doesn't mask the rule under test.
func padded(s string) string {
	if len(s) >= minBodyBytes {
		return s
	}
	return s + "<!--" + strings.Repeat("p", minBodyBytes-len(s)) + "-->"
}
