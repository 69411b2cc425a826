package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBodyFormat(t *testing.T) {
	for _, name := range []string{"json", "XML", " csv ", "urlencoded"} {
		_, err := ParseBodyFormat(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseBodyFormat("yaml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        BodyFormat
		ok          bool
	}{
		{"application/json", FormatJSON, true},
		{"application/problem+json", FormatJSON, true},
		{"text/xml", FormatXML, true},
		{"application/atom+xml", FormatXML, true},
		{"text/csv", FormatCSV, true},
		{"application/x-www-form-urlencoded", FormatURLEncoded, true},
		{"multipart/form-data", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, ok := FormatFromContentType(tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		from, to BodyFormat
		root     string
		want     string
	}{
		{
			name: "xml to json",
			body: `<?xml version="1.0"?><order><id>7</id><line><sku>a</sku></line><line><sku>b</sku></line></order>`,
			from: FormatXML, to: FormatJSON,
			want: `{"id":"7","line":[{"sku":"a"},{"sku":"b"}]}`,
		},
		{
			name: "json to xml with repeated elements",
			body: `{"tags":["x","y"],"note":"a<b"}`,
			from: FormatJSON, to: FormatXML, root: "doc",
			want: `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<doc><note>a&lt;b</note><tags>x</tags><tags>y</tags></doc>`,
		},
		{
			name: "csv to json",
			body: "\xef\xbb\xbfid,name\n1,ann\n2,\"bo, jr\"\n",
			from: FormatCSV, to: FormatJSON,
			want: `[{"id":"1","name":"ann"},{"id":"2","name":"bo, jr"}]`,
		},
		{
			name: "json object to csv",
			body: `{"b":{"x":1},"a":true}`,
			from: FormatJSON, to: FormatCSV,
			want: "a,b\ntrue,\"{\"\"x\"\":1}\"\n",
		},
		{
			name: "urlencoded to json",
			body: "q=go&tag=a&tag=b",
			from: FormatURLEncoded, to: FormatJSON,
			want: `{"q":"go","tag":["a","b"]}`,
		},
		{
			name: "json to urlencoded",
			body: `{"tag":["a","b"],"page":2,"q":"go lang"}`,
			from: FormatJSON, to: FormatURLEncoded,
			want: "page=2&q=go+lang&tag=a&tag=b",
		},
		{
			name: "same format is untouched",
			body: `{ "a" : 1 }`,
			from: FormatJSON, to: FormatJSON,
			want: `{ "a" : 1 }`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertBody([]byte(tt.body), tt.from, tt.to, tt.root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestConvertBody_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		from, to BodyFormat
	}{
		{"malformed json", `{"a":`, FormatJSON, FormatXML},
		{"malformed xml", `<a><b></a>`, FormatXML, FormatJSON},
		{"array to urlencoded", `[1,2]`, FormatJSON, FormatURLEncoded},
		{"scalars to csv", `[1,2]`, FormatJSON, FormatCSV},
		{"invalid element name", `{"1st":"x"}`, FormatJSON, FormatXML},
		{"unknown target", `{}`, FormatJSON, BodyFormat("yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertBody([]byte(tt.body), tt.from, tt.to, "")
			assert.Error(t, err)
		})
	}
}
