package stream

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strs(recs [][]byte) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r)
	}
	return out
}

func TestFramer_RecordSplitAcrossChunks(t *testing.T) {
	f := NewFramer(0)

	recs, err := f.Push([]byte(`{"result":{"state":`))
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 19, f.Pending())

	recs, err = f.Push([]byte(`"SETTLED"}}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"result":{"state":"SETTLED"}}`}, strs(recs))
	assert.Zero(t, f.Pending())
}

func TestFramer_TerminatorInsideChunk(t *testing.T) {
	f := NewFramer(0)

	// dois registros completos e o começo do terceiro no mesmo chunk
	recs, err := f.Push([]byte("{\"a\":1}\n{\"b\":2}\n{\"c\""))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, strs(recs))

	recs, err = f.Push([]byte(":3}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"c":3}`}, strs(recs))
}

func TestFramer_BlankLinesAndCRLF(t *testing.T) {
	f := NewFramer(0)
	recs, err := f.Push([]byte("\n\r\n{\"a\":1}\r\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, strs(recs))
}

func TestFramer_RandomSplitsMatchWholeStream(t *testing.T) {
	var want []string
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		rec := `{"result":{"payment_addr":"addr-` + strings.Repeat("x", i%37) + `","state":"SETTLED"}}`
		want = append(want, rec)
		sb.WriteString(rec)
		sb.WriteByte('\n')
	}
	stream := []byte(sb.String())

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		f := NewFramer(0)
		var got []string
		for off := 0; off < len(stream); {
			n := 1 + rng.Intn(97)
			if off+n > len(stream) {
				n = len(stream) - off
			}
			recs, err := f.Push(stream[off : off+n])
			require.NoError(t, err)
			got = append(got, strs(recs)...)
			off += n
		}
		assert.Equal(t, want, got)
		assert.Zero(t, f.Pending())
	}
}

func TestFramer_RecordsAreIndependentCopies(t *testing.T) {
	f := NewFramer(0)
	recs, _ := f.Push([]byte("aaa\nbb"))
	more, _ := f.Push([]byte("b\n"))
	assert.Equal(t, "aaa", string(recs[0]))
	assert.Equal(t, "bbb", string(more[0]))
}

func TestFramer_OversizeRecordIsDropped(t *testing.T) {
	f := NewFramer(16)

	recs, err := f.Push([]byte("ok\n" + strings.Repeat("z", 20)))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, []string{"ok"}, strs(recs))
	assert.Zero(t, f.Pending())

	// o resto do registro gigante chega e vira lixo até o próximo terminador;
	// o registro seguinte sai inteiro
	recs, err = f.Push([]byte("zz\n{\"a\":1}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"zz", `{"a":1}`}, strs(recs))
}

func TestFramer_Reset(t *testing.T) {
	f := NewFramer(0)
	_, _ = f.Push([]byte(`{"partial`))
	f.Reset()
	assert.Zero(t, f.Pending())

	recs, err := f.Push([]byte("{\"a\":1}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, strs(recs))
}
