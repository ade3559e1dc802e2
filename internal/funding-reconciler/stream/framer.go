package stream

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxRecord limita o tamanho de um registro ainda incompleto
const DefaultMaxRecord = 1 << 20

var ErrRecordTooLarge = errors.New("record exceeds max size")

// Framer remonta registros terminados em '\n' a partir de chunks arbitrários.
// Um registro é emitido assim que seu terminador chega, esteja ele no fim do
// chunk ou no meio dele. O resto sem terminador fica no buffer
type Framer struct {
	buf []byte
	max int
}

func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxRecord
	}
	return &Framer{max: max}
}

// Push acrescenta chunk e devolve os registros completos (sem '\n', sem linhas
// vazias). Se o registro pendente passar de max ele é descartado e
// ErrRecordTooLarge volta junto com os registros já completos
func (f *Framer) Push(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var records [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[:i])
		if len(line) > 0 {
			rec := make([]byte, len(line))
			copy(rec, line)
			records = append(records, rec)
		}
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > f.max {
		n := len(f.buf)
		f.buf = nil
		return records, fmt.Errorf("%w: %d bytes pending", ErrRecordTooLarge, n)
	}

	// compacta para o buffer não crescer indefinidamente
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	} else if cap(f.buf) > 4*len(f.buf) && cap(f.buf) > 64<<10 {
		f.buf = append([]byte(nil), f.buf...)
	}
	return records, nil
}

// Pending é quantos bytes esperam pelo terminador
func (f *Framer) Pending() int { return len(f.buf) }

// Reset descarta o registro parcial (nova assinatura do stream)
func (f *Framer) Reset() { f.buf = nil }
