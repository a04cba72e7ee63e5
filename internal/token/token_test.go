package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecParse(t *testing.T) {
	codec := NewCodec("qrlabel.one")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "valid", input: "https://qrlabel.one/t/AB12", want: "AB12"},
		{name: "valid longer token", input: "https://qrlabel.one/t/XJ4Q9", want: "XJ4Q9"},
		{name: "surrounding whitespace", input: "  https://qrlabel.one/t/AB12  ", want: "AB12"},
		{name: "wrong host", input: "https://evil.example/t/AB12", wantErr: true},
		{name: "subdomain is a different host", input: "https://www.qrlabel.one/t/AB12", wantErr: true},
		{name: "token too short", input: "https://evil.example/t/ab1", wantErr: true},
		{name: "short token on right host", input: "https://qrlabel.one/t/ab1", wantErr: true},
		{name: "wrong first segment", input: "https://qrlabel.one/x/AB12", wantErr: true},
		{name: "one segment", input: "https://qrlabel.one/AB12", wantErr: true},
		{name: "three segments", input: "https://qrlabel.one/t/AB12/extra", wantErr: true},
		{name: "not a url", input: "AB12", wantErr: true},
		{name: "relative url", input: "/t/AB12", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodecParseCaseSensitive(t *testing.T) {
	codec := NewCodec("qrlabel.one")

	got, err := codec.Parse("https://qrlabel.one/t/aB9k")
	require.NoError(t, err)
	assert.Equal(t, "aB9k", got, "token must be passed through verbatim")
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(" XJ4Q9 ")
	require.NoError(t, err)
	assert.Equal(t, "XJ4Q9", got)

	_, err = Normalize("ab1")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = Normalize("")
	assert.ErrorIs(t, err, ErrInvalidCode)
}
