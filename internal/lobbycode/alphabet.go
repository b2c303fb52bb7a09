package lobbycode

import (
	"math/big"
	"strings"
)

// Alphabet is the 34-symbol table shared by every code format. I and O are
// left out because they are easily mistaken for 1 and 0.
const Alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Base is the radix of the symbol table.
const Base = len(Alphabet)

var (
	symbolIndex [256]int8
	bigBase     = big.NewInt(int64(Base))
)

func init() {
	for i := range symbolIndex {
		symbolIndex[i] = -1
	}
	for i := 0; i < Base; i++ {
		symbolIndex[Alphabet[i]] = int8(i)
		symbolIndex[strings.ToLower(Alphabet[i:i+1])[0]] = int8(i)
	}
	// Visually ambiguous letters are accepted as their digit look-alikes.
	symbolIndex['I'], symbolIndex['i'] = 1, 1
	symbolIndex['O'], symbolIndex['o'] = 0, 0
}

// symbolValue returns the numeric value of c, or -1 when c is not a symbol.
func symbolValue(c byte) int {
	return int(symbolIndex[c])
}

// normalize upper-cases text and folds I/O onto 1/0.
func normalize(text string) string {
	text = strings.ToUpper(strings.TrimSpace(text))
	return strings.NewReplacer("I", "1", "O", "0").Replace(text)
}

// powBase returns Base^n as a big integer.
func powBase(n int) *big.Int {
	return new(big.Int).Exp(bigBase, big.NewInt(int64(n)), nil)
}

// encodeLittleEndian writes v as exactly n symbols, least-significant first.
// Higher digits that do not fit are dropped.
func encodeLittleEndian(v *big.Int, n int) string {
	rest := new(big.Int).Set(v)
	digit := new(big.Int)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		rest.DivMod(rest, bigBase, digit)
		out[i] = Alphabet[digit.Int64()]
	}
	return string(out)
}

// decodeLittleEndian is the inverse of encodeLittleEndian. It returns the
// index of the first invalid symbol, or -1.
func decodeLittleEndian(symbols string) (*big.Int, int) {
	v := new(big.Int)
	for i := len(symbols) - 1; i >= 0; i-- {
		d := symbolValue(symbols[i])
		if d < 0 {
			return nil, i
		}
		v.Mul(v, bigBase)
		v.Add(v, big.NewInt(int64(d)))
	}
	return v, -1
}

// encodeBigEndian writes v as base-34 symbols, most-significant first,
// left-padded with '0' to width.
func encodeBigEndian(v uint64, width int) string {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = Alphabet[v%uint64(Base)]
		v /= uint64(Base)
	}
	return string(out)
}

// decodeBigEndian parses most-significant-first symbols into a uint64.
func decodeBigEndian(symbols string) (uint64, int) {
	var v uint64
	for i := 0; i < len(symbols); i++ {
		d := symbolValue(symbols[i])
		if d < 0 {
			return 0, i
		}
		v = v*uint64(Base) + uint64(d)
	}
	return v, -1
}
