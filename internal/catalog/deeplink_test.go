package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocNumberFromHref(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{"absolute", "http://www.bibliotecaspublicas.gob.cl/F?func=item-global&doc_number=12345", "000012345"},
		{"relative", "/F/ABC123?func=item-global&doc_library=BPU01&doc_number=7", "000000007"},
		{"entity escaped", "/F?func=item-global&amp;doc_number=000987654&amp;sub_library=BPUBL", "000987654"},
		{"already nine digits", "/F?doc_number=123456789", "123456789"},
		{"longer than nine digits", "/F?doc_number=1234567890", "1234567890"},
		{"missing", "/F?func=item-global&doc_library=BPU01", ""},
		{"empty value", "/F?doc_number=", ""},
		{"not numeric", "/F?doc_number=12a45", ""},
		{"negative", "/F?doc_number=-5", ""},
		{"empty href", "", ""},
		{"bad escape elsewhere in query", "/F?doc_number=42&x=%zz", "000000042"},
		{"control character falls back to scan", "/F?doc_number=77&x=\x7f", "000000077"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocNumberFromHref(tt.href))
		})
	}
}

func TestDeepLink(t *testing.T) {
	assert.Equal(t,
		"http://www.bibliotecaspublicas.gob.cl/F?func=item-global&doc_library=BPU01&doc_number=000012345&sub_library=BPUBL",
		DeepLink("12345"))
	assert.Equal(t,
		"http://www.bibliotecaspublicas.gob.cl/F?func=item-global&doc_library=BPU01&doc_number=000012345&sub_library=BPUBL",
		DeepLink("000012345"))
	assert.Empty(t, DeepLink(""))
	assert.Empty(t, DeepLink("abc"))
}
