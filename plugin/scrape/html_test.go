package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "prefers main",
			html: `<body><header>Site</header><div>sidebar text</div><main><h1>Title</h1><p>Body text.</p></main></body>`,
			want: "Title\nBody text.",
		},
		{
			name: "prefers article when no main",
			html: `<body><div>menu</div><article><p>Story <b>bold</b> end.</p></article></body>`,
			want: "Story bold end.",
		},
		{
			name: "role main",
			html: `<body><div role="main"><p>Inside</p></div><p>Outside</p></body>`,
			want: "Inside",
		},
		{
			name: "content container",
			html: `<body><div class="post-content"><p>Post</p></div><p>Other</p></body>`,
			want: "Post",
		},
		{
			name: "falls back to body and strips boilerplate",
			html: `<html><head><style>p{}</style></head><body><nav>Nav</nav><p>One</p><script>evil()</script><p>Two</p><footer>Foot</footer></body></html>`,
			want: "One\nTwo",
		},
		{
			name: "skips aria navigation",
			html: `<body><div role="navigation">links</div><p>Kept</p><div hidden>gone</div></body>`,
			want: "Kept",
		},
		{
			name: "collapses whitespace",
			html: "<body><p>  a \n\t b  </p></body>",
			want: "a b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTextEmptyMainFallsBack(t *testing.T) {
	got, err := ExtractText(strings.NewReader(`<body><main><script>x()</script></main><p>Body</p></body>`))
	require.NoError(t, err)
	assert.Equal(t, "Body", got)
}
