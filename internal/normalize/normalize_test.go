package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/model"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"mobile 11 digits", "11988887777", "5511988887777"},
		{"formatted", "(11) 98888-7777", "5511988887777"},
		{"e164", "+55 11 99999-8888", "5511999998888"},
		{"country code no plus", "5511999998888", "5511999998888"},
		{"trunk zero", "011988887777", "5511988887777"},
		{"ten digits gets mobile nine", "1188887777", "5511988887777"},
		{"ten digits with country code", "551188887777", "5511988887777"},
		{"ddd 55 national", "55988887777", "5555988887777"},
		{"ddd 55 ten digits", "5588887777", "5555988887777"},
		{"country code and trunk zero", "+55 (011) 98888-7777", "5511988887777"},
		{"country code and trunk zero ten digits", "+55 011 8888-7777", "5511988887777"},
		{"ddd 55 with country code", "+55 55 98888-7777", "5555988887777"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Phone(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Phone(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "idempotent")
		})
	}
}

func TestPhone_Invalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "12345", "119888877771234", "+1 (415) 555-0100 ext 9", "+55 (011) 98888-77771"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Phone(raw)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  X@Y.com ", "x@y.com"},
		{"Maria.Silva@Example.COM.BR", "maria.silva@example.com.br"},
		{"mailto:ana@x.io", "ana@x.io"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Email(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Email(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestEmail_Invalid(t *testing.T) {
	for _, raw := range []string{"no-at-sign", "@y.com", "x@", "x@@y.com", "x@localhost", "a b@y.com", "x@y.com."} {
		t.Run(raw, func(t *testing.T) {
			_, err := Email(raw)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"[VIP] João  da Silva", "Joao da Silva"},
		{"Ana--Paula   Conceição", "Ana-Paula Conceicao"},
		{"[[x]] Pedro [lead quente]", "Pedro"},
		{"  Zé  ", "Ze"},
		{"", ""},
		{"Sem [fechamento", "Sem [fechamento"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Name(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Name(got), "idempotent")
		})
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.Example.com/Lancamento/", "example.com/lancamento"},
		{"http://example.com/lp?utm_source=fb#form", "example.com/lp"},
		{"example.com", "example.com"},
		{"https://www.www.x.com//", "x.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := URL(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, URL(got))
		})
	}
}

func TestWords(t *testing.T) {
	assert.Equal(t,
		[]string{"apartamento", "em", "sao", "paulo", "com", "varanda"},
		Words("Apartamento em São Paulo, com varanda! Apartamento"),
	)
	assert.Empty(t, Words("a e i"))
	assert.Empty(t, Words(""))
}

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "acao coracao", StripDiacritics("ação coração"))
}
