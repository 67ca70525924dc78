// ABOUTME: SRP group parameters (safe-prime modulus N and generator g)
// ABOUTME: Ships the RFC 5054 groups plus the legacy deployment modulus

package srp

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Group is a fixed (N, g) pair shared by every handshake of a deployment.
type Group struct {
	Name string
	N    *big.Int
	G    *big.Int
}

// DefaultGroup is used when configuration does not name one.
const DefaultGroup = "rfc5054-2048"

var groups = map[string]*Group{
	"rfc5054-1024": {
		Name: "rfc5054-1024",
		N: mustHex("EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C256576" +
			"D674DF7496EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089DAD1" +
			"5DC7D7B46154D6B6CE8EF4AD69B15D4982559B297BCF1885C529F566660E57EC" +
			"68EDBC3C05726CC02FD4CBF4976EAA9AFD5138FE8376435B9FC61D2FC0EB06E3"),
		G: big.NewInt(2),
	},
	"rfc5054-2048": {
		Name: "rfc5054-2048",
		N: mustHex("AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
			"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
			"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
			"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
			"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
			"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
			"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
			"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"),
		G: big.NewInt(2),
	},
	// Modulus used by the first deployment; kept so existing verifiers still work.
	"legacy-1024": {
		Name: "legacy-1024",
		N: mustHex("B97F8C656C3DF7179C2B805BBCB3A0DC4B0B6926BF66D0A3C63CF6015625CAF9" +
			"A4DB4BBE7EB34253FAB0E475A6ACFAE49FD5F22C47A71B5532911B69FE7DF4F8" +
			"ACEE2F7785D75866CF6D213286FC7EBBBE3BE411ECFA10A70F0C8463DC1182C6" +
			"F9B6F7666C8691B3D1AB6FD78E9CBF8AAE719EA75CA02BE87AE445C698BF0413"),
		G: big.NewInt(2),
	},
}

// LookupGroup returns the named group. An empty name selects DefaultGroup.
func LookupGroup(name string) (*Group, error) {
	if name == "" {
		name = DefaultGroup
	}
	g, ok := groups[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown SRP group %q (known: %s)", name, strings.Join(GroupNames(), ", "))
	}
	return g, nil
}

// GroupNames lists the built-in group names in sorted order.
func GroupNames() []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size is the byte length of N, the width every PAD()ed value takes.
func (g *Group) Size() int {
	return (g.N.BitLen() + 7) / 8
}

// Pad left-pads x with zeros to the byte length of N.
func (g *Group) Pad(x *big.Int) []byte {
	return x.FillBytes(make([]byte, g.Size()))
}

// IsValidPublic reports whether x is usable as a peer public value: x mod N != 0
// and x is in canonical form (0 < x < N).
func (g *Group) IsValidPublic(x *big.Int) bool {
	if x == nil || x.Sign() <= 0 || x.Cmp(g.N) >= 0 {
		return false
	}
	return new(big.Int).Mod(x, g.N).Sign() != 0
}

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: bad group constant")
	}
	return n
}
