package css_test

import (
	"strings"
	"testing"
)

func TestStylesheet_Dump(t *testing.T) {
	sheet := mustParse(t, `/* fonts */
@font-face {
  font-family: "Inter";
  src: url(https://fonts.example/inter.woff2) format("woff2");
}
p { color: red }
`)

	got := sheet.Dump()
	for _, want := range []string{
		`Stylesheet "test.css"`,
		"  AtRule @font-face\n",
		"    Block closed=true\n",
		"      Declaration font-family\n",
		"      Declaration src\n",
		`        URL "https://fonts.example/inter.woff2" rewritten=false`,
		"        Function format closed=true\n",
		"  QualifiedRule\n",
		`    prelude: "p"`,
		"      Declaration color\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Dump() missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "fonts */") {
		t.Errorf("Dump() shows comments:\n%s", got)
	}

	u := urls(sheet.Nodes)
	if len(u) != 1 {
		t.Fatalf("urls = %d, want 1", len(u))
	}
	u[0].Value, u[0].Raw = "./fonts.example/inter.woff2", ""
	if got := sheet.Dump(); !strings.Contains(got, `URL "./fonts.example/inter.woff2" rewritten=true`) {
		t.Errorf("Dump() after rewrite:\n%s", got)
	}
}
