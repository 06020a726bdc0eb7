package linkedin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProfile(t *testing.T) {
	cases := map[string]string{
		"https://www.linkedin.com/in/gavin-zaentz/":                "linkedin.com/in/gavin-zaentz",
		"http://linkedin.com/in/gavin-zaentz":                      "linkedin.com/in/gavin-zaentz",
		"https://www.linkedin.com/in/gavin-zaentz/posts/?x=1#frag": "linkedin.com/in/gavin-zaentz",
		"https://example.com/in/not-linkedin":                      "",
		"":                                                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in, URLTypeProfile), "input: %s", in)
	}
}

func TestNormalizeCompany(t *testing.T) {
	got := Normalize("https://www.linkedin.com/company/leadpoet/posts/?feedView=all", URLTypeCompany)
	assert.Equal(t, "linkedin.com/company/leadpoet", got)
}

func TestComboHashDeterministic(t *testing.T) {
	h1 := ComboHash("https://www.linkedin.com/in/gavin-zaentz/", "https://www.linkedin.com/company/leadpoet/")
	h2 := ComboHash("https://linkedin.com/in/gavin-zaentz", "http://www.linkedin.com/company/leadpoet")
	assert.NotEmpty(t, h1)
	assert.Equal(t, h1, h2)
}

func TestComboHashEmptyOnInvalidInput(t *testing.T) {
	assert.Empty(t, ComboHash("not a url", "https://www.linkedin.com/company/leadpoet/"))
}

func TestComboHashNoCollisionAcrossSeparator(t *testing.T) {
	h1 := ComboHash("https://linkedin.com/in/a", "https://linkedin.com/company/b")
	h2 := ComboHash("https://linkedin.com/in/a-distinct", "https://linkedin.com/company/b")
	assert.NotEqual(t, h1, h2)
}
