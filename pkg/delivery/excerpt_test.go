package delivery_test

import (
	"strings"
	"testing"

	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/stretchr/testify/assert"
)

func TestErrorExcerpt(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want string
	}{
		{
			name: "banner markers stripped",
			log:  "!Undefined control sequence.\n!",
			want: "Undefined control sequence.",
		},
		{
			name: "first banner of a longer log",
			log:  "This is pdfTeX\n! Missing $ inserted.\n<inserted text>\n! Emergency stop.\n",
			want: " Missing $ inserted.\n<inserted text>",
		},
		{
			name: "starred banner",
			log:  "*! Undefined control sequence.\nl.3 \\foo\n",
			want: "*! Undefined control sequence.\nl.3 \\foo",
		},
		{
			name: "no banner keeps the whole log",
			log:  "something odd happened",
			want: "something odd happened",
		},
		{
			name: "empty log",
			log:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, delivery.ErrorExcerpt(tt.log))
		})
	}
}

func TestErrorExcerpt_TruncatesRunes(t *testing.T) {
	log := strings.Repeat("é", delivery.MaxExcerpt+50)
	got := delivery.ErrorExcerpt(log)
	assert.Equal(t, delivery.MaxExcerpt, len([]rune(got)))
}
