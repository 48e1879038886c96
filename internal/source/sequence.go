package source

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// rowStatus je výsledek jednoho čtení řádku.
// Místo výjimek vracíme explicitní stav a o restartu rozhoduje volající.
type rowStatus int

const (
	rowOK rowStatus = iota
	endOfSequence
	parseFault
)

func (s rowStatus) String() string {
	switch s {
	case rowOK:
		return "ok"
	case endOfSequence:
		return "end_of_sequence"
	case parseFault:
		return "parse_fault"
	default:
		return "unknown"
	}
}

// sequence je jeden otevřený CSV soubor se známým počtem sloupců.
type sequence struct {
	file   *os.File
	reader *csv.Reader
	width  int
}

// openSequence otevře soubor a přeskočí řádek s hlavičkou.
// Soubor bez hlavičky (prázdný) se otevře, ale první čtení vrátí endOfSequence.
func openSequence(path string, width int) (*sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // počet sloupců kontrolujeme sami, chyba = parseFault
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	// Hlavička (názvy sloupců). Obsah nás nezajímá.
	if _, err := r.Read(); err != nil && !errors.Is(err, io.EOF) {
		var perr *csv.ParseError
		if !errors.As(err, &perr) {
			f.Close()
			return nil, err
		}
	}

	return &sequence{file: f, reader: r, width: width}, nil
}

// next přečte další řádek a naparsuje všechny sloupce jako float64.
// Buď projdou všechny sloupce, nebo se nevrátí nic (žádný napůl naparsovaný řádek).
func (s *sequence) next() ([]float64, rowStatus) {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, endOfSequence
	}
	if err != nil {
		return nil, parseFault
	}
	if len(record) != s.width {
		return nil, parseFault
	}

	values := make([]float64, s.width)
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, parseFault
		}
		values[i] = v
	}
	return values, rowOK
}

func (s *sequence) close() error {
	if s == nil || s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
