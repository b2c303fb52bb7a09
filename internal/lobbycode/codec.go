package lobbycode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Layout constants for each format.
const (
	pclceLength = 10

	terracottaGroups   = 5
	terracottaGroupLen = 5
	terracottaSymbols  = terracottaGroups * terracottaGroupLen
	terracottaMinPort  = 100

	scaffoldingPrefix  = "U/"
	scaffoldingSymbols = 16
	scaffoldingLength  = len(scaffoldingPrefix) + scaffoldingSymbols + 3
	scaffoldingDivisor = 7

	// ScaffoldingNamePrefix is prepended to the first two symbol groups to
	// form the mesh network name of a scaffolding lobby.
	ScaffoldingNamePrefix = "scaffolding-mc-"
)

// Codec generates and parses lobby codes. Ports is consulted when a code
// needs a freshly allocated port.
type Codec struct {
	Ports util.PortAllocator
}

// Default uses the kernel to pick free ports.
var Default = Codec{Ports: util.FreePorts}

// Generate creates a new code of the given format using Default.
func Generate(format Format) (Code, error) { return Default.Generate(format) }

// Parse decodes text using Default.
func Parse(text string) (Code, error) { return Default.Parse(text) }

// Generate creates a code of the given format. PCLCE and Terracotta codes
// embed a port drawn from c.Ports.
func (c Codec) Generate(format Format) (Code, error) {
	if format == FormatScaffolding {
		return c.GenerateWithPort(format, 0)
	}
	if c.Ports == nil {
		return Code{}, fmt.Errorf("no port allocator configured for %s codes", format)
	}
	port, err := c.Ports.AllocatePort()
	if err != nil {
		return Code{}, err
	}
	return c.GenerateWithPort(format, port)
}

// GenerateWithPort creates a code of the given format carrying port. The
// port is ignored for scaffolding codes.
func (c Codec) GenerateWithPort(format Format, port int) (Code, error) {
	switch format {
	case FormatPCLCE:
		return generatePCLCE(port)
	case FormatTerracotta:
		return generateTerracotta(port)
	case FormatScaffolding:
		return generateScaffolding()
	}
	return Code{}, fmt.Errorf("cannot generate %s lobby code", format)
}

// Parse recognizes the format of text and decodes it. Malformed input is
// reported as a *ParseError.
func (c Codec) Parse(text string) (Code, error) {
	norm := normalize(text)
	switch {
	case strings.HasPrefix(norm, scaffoldingPrefix):
		return parseScaffolding(text, norm)
	case strings.Count(norm, "-") == terracottaGroups-1:
		return parseTerracotta(text, norm)
	case len(norm) == pclceLength && !strings.Contains(norm, "-"):
		return parsePCLCE(text, norm)
	}
	return Code{}, parseErr(FormatUnknown, text, "unrecognized format")
}

// ---------------------------------------------------------------------------
// PCLCE: AAAAAAAA BB PPPPP (decimal) -> 10 base-34 symbols
// ---------------------------------------------------------------------------

func generatePCLCE(port int) (Code, error) {
	if port < 1 || port > 65535 {
		return Code{}, fmt.Errorf("port %d out of range", port)
	}
	name, err := randomInt(big.NewInt(90000000))
	if err != nil {
		return Code{}, err
	}
	secret, err := randomInt(big.NewInt(100))
	if err != nil {
		return Code{}, err
	}

	networkName := strconv.FormatInt(name.Int64()+10000000, 10)
	networkSecret := fmt.Sprintf("%02d", secret.Int64())
	decimal := networkName + networkSecret + strconv.Itoa(port)

	value, err := strconv.ParseUint(decimal, 10, 64)
	if err != nil {
		return Code{}, err
	}

	return Code{
		Format:        FormatPCLCE,
		NetworkName:   networkName,
		NetworkSecret: networkSecret,
		Port:          port,
		Text:          encodeBigEndian(value, pclceLength),
	}, nil
}

func parsePCLCE(text, norm string) (Code, error) {
	value, bad := decodeBigEndian(norm)
	if bad >= 0 {
		return Code{}, parseErr(FormatPCLCE, text, "invalid symbol %q", norm[bad])
	}

	decimal := strconv.FormatUint(value, 10)
	if len(decimal) < 11 || len(decimal) > 15 {
		return Code{}, parseErr(FormatPCLCE, text, "decoded value has %d digits", len(decimal))
	}

	port, err := strconv.Atoi(decimal[10:])
	if err != nil || port < 1 || port > 65535 {
		return Code{}, parseErr(FormatPCLCE, text, "port %q out of range", decimal[10:])
	}

	return Code{
		Format:        FormatPCLCE,
		NetworkName:   decimal[:8],
		NetworkSecret: decimal[8:10],
		Port:          port,
		Text:          text,
	}, nil
}

// ---------------------------------------------------------------------------
// Terracotta: XXXXX-XXXXX-XXXXX-XXXXX-XXXXX, last symbol is a running checksum
// ---------------------------------------------------------------------------

func generateTerracotta(port int) (Code, error) {
	if port < terracottaMinPort || port > 65535 {
		return Code{}, fmt.Errorf("port %d out of range for terracotta codes", port)
	}

	// value = r*65536 + port stays below 34^24 for every r < 34^24/65536.
	limit := new(big.Int).Div(powBase(terracottaSymbols-1), big.NewInt(65536))
	r, err := randomInt(limit)
	if err != nil {
		return Code{}, err
	}
	value := r.Lsh(r, 16)
	value.Add(value, big.NewInt(int64(port)))

	payload := encodeLittleEndian(value, terracottaSymbols-1)
	payload += string(Alphabet[terracottaChecksum(payload)])

	groups := make([]string, 0, terracottaGroups)
	for i := 0; i < terracottaSymbols; i += terracottaGroupLen {
		groups = append(groups, payload[i:i+terracottaGroupLen])
	}

	return Code{
		Format:        FormatTerracotta,
		NetworkName:   strings.ToLower(payload[:15]),
		NetworkSecret: strings.ToLower(payload[15:]),
		Port:          port,
		Text:          strings.Join(groups, "-"),
	}, nil
}

func parseTerracotta(text, norm string) (Code, error) {
	groups := strings.Split(norm, "-")
	if len(groups) != terracottaGroups {
		return Code{}, parseErr(FormatTerracotta, text, "expected %d groups, got %d", terracottaGroups, len(groups))
	}
	for i, g := range groups {
		if len(g) != terracottaGroupLen {
			return Code{}, parseErr(FormatTerracotta, text, "group %d has %d symbols, expected %d", i+1, len(g), terracottaGroupLen)
		}
	}
	payload := strings.Join(groups, "")

	value, bad := decodeLittleEndian(payload[:terracottaSymbols-1])
	if bad >= 0 {
		return Code{}, parseErr(FormatTerracotta, text, "invalid symbol %q", payload[bad])
	}
	check := symbolValue(payload[terracottaSymbols-1])
	if check < 0 {
		return Code{}, parseErr(FormatTerracotta, text, "invalid checksum symbol %q", payload[terracottaSymbols-1])
	}
	if terracottaChecksum(payload[:terracottaSymbols-1]) != check {
		return Code{}, parseErr(FormatTerracotta, text, "checksum mismatch")
	}

	port := int(new(big.Int).And(value, big.NewInt(0xffff)).Int64())
	if port < terracottaMinPort {
		return Code{}, parseErr(FormatTerracotta, text, "port %d below %d", port, terracottaMinPort)
	}

	return Code{
		Format:        FormatTerracotta,
		NetworkName:   strings.ToLower(payload[:15]),
		NetworkSecret: strings.ToLower(payload[15:]),
		Port:          port,
		Text:          text,
	}, nil
}

// terracottaChecksum folds symbols into c[i+1] = (v[i] + c[i]) mod 34.
func terracottaChecksum(symbols string) int {
	c := 0
	for i := 0; i < len(symbols); i++ {
		c = (symbolValue(symbols[i]) + c) % Base
	}
	return c
}

// ---------------------------------------------------------------------------
// Scaffolding: U/XXXX-XXXX-XXXX-XXXX, value divisible by 7
// ---------------------------------------------------------------------------

func generateScaffolding() (Code, error) {
	value, err := randomInt(powBase(scaffoldingSymbols))
	if err != nil {
		return Code{}, err
	}
	rem := new(big.Int).Mod(value, big.NewInt(scaffoldingDivisor))
	value.Sub(value, rem)

	symbols := encodeLittleEndian(value, scaffoldingSymbols)
	text := scaffoldingPrefix + symbols[0:4] + "-" + symbols[4:8] + "-" + symbols[8:12] + "-" + symbols[12:16]
	return scaffoldingCode(text, text), nil
}

func parseScaffolding(text, norm string) (Code, error) {
	if len(norm) != scaffoldingLength {
		return Code{}, parseErr(FormatScaffolding, text, "expected %d characters, got %d", scaffoldingLength, len(norm))
	}

	body := norm[len(scaffoldingPrefix):]
	var symbols strings.Builder
	for i := 0; i < len(body); i++ {
		if i%5 == 4 {
			if body[i] != '-' {
				return Code{}, parseErr(FormatScaffolding, text, "expected '-' at position %d", i+len(scaffoldingPrefix))
			}
			continue
		}
		symbols.WriteByte(body[i])
	}

	value, bad := decodeLittleEndian(symbols.String())
	if bad >= 0 {
		return Code{}, parseErr(FormatScaffolding, text, "invalid symbol %q", symbols.String()[bad])
	}
	if new(big.Int).Mod(value, big.NewInt(scaffoldingDivisor)).Sign() != 0 {
		return Code{}, parseErr(FormatScaffolding, text, "checksum mismatch")
	}

	code := scaffoldingCode(norm, text)
	return code, nil
}

// scaffoldingCode derives the network credentials from a normalized
// U/XXXX-XXXX-XXXX-XXXX string: the first two groups name the network and
// the last two are its secret.
func scaffoldingCode(norm, text string) Code {
	return Code{
		Format:        FormatScaffolding,
		NetworkName:   ScaffoldingNamePrefix + norm[2:11],
		NetworkSecret: norm[12:21],
		Text:          text,
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func randomInt(limit *big.Int) (*big.Int, error) {
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to draw random value: %w", err)
	}
	return n, nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
