package permdata

import (
	"fmt"
	"os"

	"github.com/mailru/easyjson/jlexer"
)

// ParseJSON reads an object of symbol to ascii hex lock, for example
// {"MSFT.O": "0302c01c", "VOD.L": "03010a"}.
func ParseJSON(b []byte) (Memory, error) {
	m := make(Memory)
	in := jlexer.Lexer{Data: b}

	in.Delim('{')
	for !in.IsDelim('}') {
		symbol := in.String()
		in.WantColon()
		ascii := in.UnsafeString()
		if in.Ok() {
			lock, err := AsciiLockToBinary(ascii)
			if err != nil {
				return nil, err
			}
			m[symbol] = lock
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("permdata: parsing json: %w", err)
	}
	return m, nil
}

func LoadFile(path string) (Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseJSON(b)
}
